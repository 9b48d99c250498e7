package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "daybookd",
	Short: "Local-first sync daemon for daily notes",
	Long: `daybookd keeps a local-first note database in sync with a server.

All reads and writes hit the local embedded database first; changes are
pushed to the server immediately when online and queued for replay when
offline. Each user gets an isolated namespace, plus a shared anonymous
namespace for signed-out use.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ~/.daybook/daybook.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
}
