package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Email dispatch worker",
	Long:  "A worker that consumes email requests from RabbitMQ and relays them over SMTP.",
	Args:  cobra.NoArgs,
	Run:   runConsumeEmails,
}

// Execute runs the root Cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
