package configcmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vivekkundariya/envctl/internal/cli/shared"
	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// out receives the rendered tables
var out io.Writer = os.Stdout

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show envctl configuration",
	Long: `Show the resolved root, the global settings, the routing targets of
env/policy.yaml and the variables of env/contract.yaml. Values are never shown.

Example:
  envctl config show --root .`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showSetup(out)
	},
}

func init() {
	Cmd.AddCommand(showCmd)
}

func showSetup(w io.Writer) error {
	resolver := shared.ConfigResolver
	container := shared.Container
	if resolver == nil || container == nil {
		return failure.Precondition("", "config not initialized")
	}

	globalConfigPath, _ := config.GetGlobalConfigPath()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  SSOT root:     %s\n", shared.Root)
	fmt.Fprintf(w, "  Global config: %s\n", globalConfigPath)
	fmt.Fprintln(w)

	if gc := resolver.GlobalConfig; gc != nil {
		t := ui.NewTable(w, "Setting", "Value")
		t.AppendRow(table.Row{"project", gc.Project})
		t.AppendRow(table.Row{"evidence_dir", gc.EvidenceDir})
		t.AppendRow(table.Row{"iam_key_patterns", strings.Join(gc.IAMKeyPatterns, ", ")})
		t.AppendRow(table.Row{"timeouts.secret_fetch", gc.Timeouts.SecretFetch.String()})
		t.AppendRow(table.Row{"timeouts.ssh_connect", gc.Timeouts.SSHConnect.String()})
		t.AppendRow(table.Row{"timeouts.ssh_command", gc.Timeouts.SSHCommand.String()})
		t.AppendRow(table.Row{"aws.region", gc.AWS.Region})
		if gc.AWS.Endpoint != "" {
			t.AppendRow(table.Row{"aws.endpoint", gc.AWS.Endpoint})
		}
		t.AppendRow(table.Row{"aws.secrets_prefix", gc.AWS.SecretsPrefix})
		t.Render()
		fmt.Fprintln(w)
	}

	pol, err := container.ContractRepo.LoadPolicy()
	if err != nil {
		return err
	}
	showTargets(w, pol)

	contract, err := config.LoadContractFile(filepath.Join(shared.Root, config.ContractPath))
	if err != nil {
		return err
	}
	showContract(w, contract, envstate.NewIAMPredicate(pol.IAMPatterns))
	return nil
}

func showTargets(w io.Writer, pol *policy.Policy) {
	t := ui.NewTable(w, "Target", "Env", "Workload", "Provider", "Transport", "Injection")
	for _, tg := range pol.Targets {
		transport, injection := "", ""
		if inj := tg.Set.Injection; inj != nil {
			transport = inj.Transport
			if transport == "" {
				transport = policy.TransportLocal
			}
			injection = inj.Target
			if tg.Set.EnvFileName != "" {
				injection = filepath.ToSlash(filepath.Join(injection, tg.Set.EnvFileName))
			}
		}
		t.AppendRow(table.Row{tg.ID, tg.Match.Env, tg.Match.Workload, tg.Set.Provider, transport, injection})
	}
	t.Render()
	fmt.Fprintln(w)
}

func showContract(w io.Writer, file *config.ContractFile, isIAM envstate.IAMPredicate) {
	t := ui.NewTable(w, "Key", "Kind", "Required", "Default")
	for _, v := range file.Variables {
		kind := "literal"
		switch {
		case v.Secret:
			kind = "secret (" + v.SecretRef + ")"
		case isIAM(envstate.Variable{Key: v.Key, IAM: v.IAM}):
			kind = "iam"
		}
		def := ""
		if v.Default != nil {
			def = *v.Default
		}
		t.AppendRow(table.Row{v.Key, kind, v.Required, def})
	}
	t.Render()
}
