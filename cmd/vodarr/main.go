// Package main is the entry point for the vodarr application.
package main

import (
	"os"

	"vodarr/cmd/vodarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
