package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/timeline"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the archived conversation timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		archive, err := timeline.OpenRead(cfg.TimelinePath())
		if err != nil {
			return err
		}
		defer archive.Close()

		msgs, err := archive.RecentMessages(historyLimit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role, m.Content)
		}
		return nil
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Show archived approval requests and their outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		archive, err := timeline.OpenRead(cfg.TimelinePath())
		if err != nil {
			return err
		}
		defer archive.Close()

		records, err := archive.ApprovalsByStatus(approvalsStatus)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  %-9s %s by %s (tier %s): %s\n",
				r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.ActionType, r.Agent, r.GovernanceTier, r.Reason)
		}
		return nil
	},
}

var approvalsStatus string

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum messages to show")
	approvalsCmd.Flags().StringVar(&approvalsStatus, "status", "", "filter by status (pending, approved, rejected, stale)")
}
