package main

import (
	"os"

	"github.com/vivekkundariya/envctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
