package shared

import (
	"github.com/vivekkundariya/envctl/internal/application/wiring"
	"github.com/vivekkundariya/envctl/internal/config"
)

var (
	// Container is the DI container initialized by root command
	Container *wiring.Container

	// ConfigResolver is the config resolver initialized by root command
	ConfigResolver *config.ConfigResolver

	// Root is the resolved SSOT root
	Root string
)
