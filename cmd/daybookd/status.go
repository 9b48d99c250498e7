package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statusTitle = lipgloss.NewStyle().Bold(true)
	statusLabel = lipgloss.NewStyle().Faint(true).Width(12)
	statusGood  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	statusBad   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, connectivity, and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		st := a.router.Debug(ctx)

		fmt.Println(statusTitle.Render("Daybook"))
		fmt.Printf("%s %s\n", statusLabel.Render("Session"), st.Session)
		if st.UserID != "" {
			fmt.Printf("%s %s\n", statusLabel.Render("User"), st.UserID)
		}
		fmt.Printf("%s %s\n", statusLabel.Render("Namespace"), st.Lifecycle.CurrentNamespace)

		online := statusBad.Render("offline")
		if st.Online {
			online = statusGood.Render("online")
		}
		fmt.Printf("%s %s\n", statusLabel.Render("Connection"), online)
		fmt.Printf("%s %d\n", statusLabel.Render("Pending"), st.PendingCount)

		if st.LastSync != nil {
			fmt.Printf("%s pulled=%d replayed=%d failed=%d (%s ago)\n",
				statusLabel.Render("Last sync"),
				st.LastSync.Pulled, st.LastSync.Replayed, st.LastSync.Failed,
				time.Since(st.LastSync.Started).Round(time.Second))
		}
		return nil
	},
}
