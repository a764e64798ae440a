package configcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize global envctl configuration",
	Long: `Initialize the global envctl configuration at ~/.envctl/config.yaml
(or $ENVCTL_HOME/config.yaml). An existing file is left as is.

For scaffolding the SSOT files of a repository, use 'envctl init' instead.

Example:
  envctl config init`,
	RunE: runConfigInit,
}

func init() {
	Cmd.AddCommand(initCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.InitGlobalConfig(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	configPath, _ := config.GetGlobalConfigPath()
	ui.Successf("Global config at: %s", configPath)
	return nil
}
