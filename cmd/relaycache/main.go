package main

import (
	"fmt"
	"os"

	"github.com/poprelay/relaycache/cmd/relaycache/commands"
	"github.com/poprelay/relaycache/internal/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError(err))
		os.Exit(1)
	}
}
