package main

import (
	"os"

	"github.com/apksignd/apksignd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitSetupFailed)
	}
}
