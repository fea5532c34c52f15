package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tbctl",
	Short: "tickbridge operations CLI",
	Long: `tbctl is the operations command-line interface for tickbridge.

Export stored history downstream, inspect unconfirmed forwards, and
manage the on-disk retry spool.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}
