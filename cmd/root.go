package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	// ExitSetupFailed defines exit code
	ExitSetupFailed = 1
)

var (
	logLevel string
	logFile  string

	rootCmd = &cobra.Command{
		Use:   "apksignd",
		Short: "Android package re-signing service",
		Long:  "apksignd accepts Android packages over HTTP, re-signs them with a configured keystore and serves the signed result for download.",
	}

	// Execution control channel for stopCh signal
	stopCh chan int
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	stopCh = make(chan int)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "console", "sets the log path. If console is specified the log will be output to stdout")
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetupCloseHandler handles SIGTERM signal and exits with success
func SetupCloseHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range c {
			fmt.Println("\r- shutdown signal received")
			stopCh <- 0
		}
	}()
}
