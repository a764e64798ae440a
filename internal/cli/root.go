package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vivekkundariya/envctl/internal/application/wiring"
	"github.com/vivekkundariya/envctl/internal/cli/configcmd"
	"github.com/vivekkundariya/envctl/internal/cli/shared"
	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/ui"
)

var (
	container      *wiring.Container
	configResolver *config.ConfigResolver

	// stdout receives reports; logs go to stderr through ui
	stdout io.Writer = os.Stdout

	// CLI flags
	rootDir  string
	envName  string
	workload string
	outPath  string
	raw      bool
	verbose  bool
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "envctl",
	Short: "envctl - environment configuration reconciliation",
	Long: `envctl computes the desired configuration of an (environment, workload)
pair from the SSOT files under env/, compares it with what the provider
reports as deployed, and applies the difference only behind explicit
approval flags.

Root resolution:
  1. --root flag
  2. ENVCTL_ROOT environment variable
  3. First parent directory containing env/contract.yaml

Examples:
  envctl plan --env dev                         Show the pending diff
  envctl apply --env dev --approve              Apply it
  envctl verify --env dev                       Check deployed state
  envctl drift --env prod --fail-on-drift       Exit 4 on drift
  envctl rotate --env dev --secret db_url --approve
  envctl apply --env prod --remote --approve --approve-remote`,
	Version:       "0.1.0",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetVerbose(verbose)
		ui.SetColor(!noColor && os.Getenv("NO_COLOR") == "")

		// Skip initialization for help, version and completion commands
		switch cmd.Name() {
		case "help", "version", "completion":
			return nil
		}

		// Skip for init and setup (no SSOT yet) and the config group
		if cmd.Name() == "init" || cmd.Name() == "setup" || isConfigInit(cmd) {
			return nil
		}

		var err error
		configResolver, err = config.NewConfigResolver(rootDir)
		if err != nil {
			return err
		}
		shared.ConfigResolver = configResolver

		root, err := configResolver.ResolveRoot()
		if err != nil {
			return err
		}
		ui.Debug("SSOT root: %s", root)
		shared.Root = root

		container, err = wiring.NewContainer(wiring.Options{
			Root:   root,
			Out:    outPath,
			Global: configResolver.GlobalConfig,
		})
		if err != nil {
			return err
		}
		shared.Container = container
		return nil
	},
}

func isConfigInit(cmd *cobra.Command) bool {
	return cmd.Parent() != nil && cmd.Parent().Name() == "config" && cmd.Name() == "init"
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	return exitCode(rootCmd.Execute())
}

// exitCode prints err with its hints and maps it to an exit code
func exitCode(err error) int {
	if err == nil {
		return failure.ExitOK
	}
	ui.Errorf("%s: %v", failure.KindOf(err), err)
	for _, hint := range failure.Hints(err) {
		ui.SubStep("hint: %s", hint)
	}
	return failure.ExitCode(err)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "",
		"SSOT root directory (default: auto-detect env/contract.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "Environment name")
	rootCmd.PersistentFlags().StringVar(&workload, "workload", "", "Workload id")
	rootCmd.PersistentFlags().StringVar(&outPath, "out", "",
		"Evidence location: a directory or s3://bucket/prefix (default: global evidence_dir)")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false,
		"Accepted for compatibility; secret values are always redacted")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(decommissionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(newSetupCmd())
}

// newSetupCmd creates the setup subcommand for global configuration
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Initialize global envctl configuration",
		Long: `Initialize the global envctl configuration at ~/.envctl/config.yaml.

This is a one-time setup for your machine. It writes the default timeouts,
AWS settings, SSH defaults and IAM key patterns, which you can then edit.

For scaffolding the SSOT files of a repository, use 'envctl init' instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitGlobalConfig(); err != nil {
				return err
			}

			configPath, _ := config.GetGlobalConfigPath()
			ui.Successf("Global config initialized at: %s", configPath)
			ui.Infof("You can customize this file to set timeouts, AWS and SSH defaults.")
			return nil
		},
	}
}
