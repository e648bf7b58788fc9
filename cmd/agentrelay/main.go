package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	asHandle string
)

var rootCmd = &cobra.Command{
	Use:           "agentrelay",
	Short:         "Personal agent messaging and background task service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&asHandle, "as", os.Getenv("AGENTRELAY_USER"), "act as this user (signs a short-lived token)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(tokenCmd, chatCmd, inboxCmd, convCmd, taskCmd, scheduleCmd, contactsCmd, prefsCmd, adminCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
