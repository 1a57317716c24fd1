package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apksignd/apksignd/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints apksignd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.ApksigndVersion())
	},
}
