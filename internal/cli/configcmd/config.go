package configcmd

import "github.com/spf13/cobra"

// Cmd is the parent command for configuration management
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage envctl configuration",
	Long: `Commands for inspecting envctl global configuration and the SSOT of a root.

Examples:
  envctl config init           Initialize global config (~/.envctl/)
  envctl config show           Show global settings, routing targets and the contract`,
}
