package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tickbridge-systems/tickbridge/internal/spool"
	"github.com/tickbridge-systems/tickbridge/pkg/output"
)

var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "Retry spool commands",
	Long:  "Inspect and manage the on-disk retry spool",
}

var spoolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spooled requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")

		queue, err := spool.NewQueue(dir)
		if err != nil {
			return fmt.Errorf("failed to open spool: %w", err)
		}

		names, err := queue.List()
		if err != nil {
			return fmt.Errorf("failed to list spool: %w", err)
		}

		type entry struct {
			File    string `json:"file"`
			URL     string `json:"url"`
			Payload int    `json:"payload_bytes"`
		}
		entries := make([]entry, 0, len(names))
		for _, name := range names {
			req, err := queue.Read(name)
			if err != nil {
				entries = append(entries, entry{File: name, URL: "(unreadable)"})
				continue
			}
			entries = append(entries, entry{File: name, URL: req.URL, Payload: len(req.Payload)})
		}

		return output.Render(outputFormat(cmd), entries, func() {
			if len(entries) == 0 {
				output.Info("Spool is empty")
				return
			}
			table := output.NewTable([]string{"FILE", "URL", "BYTES"})
			for _, e := range entries {
				table.AddRow([]string{e.File, e.URL, fmt.Sprintf("%d", e.Payload)})
			}
			table.Render()
		})
	},
}

var spoolPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all spooled requests",
	Long:  "Delete every spooled request. The dropped deliveries will never be retried.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			return fmt.Errorf("refusing to purge without --force")
		}

		queue, err := spool.NewQueue(dir)
		if err != nil {
			return fmt.Errorf("failed to open spool: %w", err)
		}

		names, err := queue.List()
		if err != nil {
			return fmt.Errorf("failed to list spool: %w", err)
		}

		removed := 0
		for _, name := range names {
			if err := queue.Delete(name); err != nil {
				output.Warn("failed to delete %s: %v", name, err)
				continue
			}
			removed++
		}

		output.Success("Purged %d spooled requests", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(spoolCmd)
	spoolCmd.AddCommand(spoolListCmd)
	spoolCmd.AddCommand(spoolPurgeCmd)

	spoolCmd.PersistentFlags().String("dir", "./spool", "Spool directory")
	spoolPurgeCmd.Flags().Bool("force", false, "Confirm the purge")
}
