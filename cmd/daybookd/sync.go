package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		res, err := a.router.SyncNow(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Sync complete: pulled=%d applied=%d replayed=%d failed=%d (%s)\n",
			res.Pulled, res.Applied, res.Replayed, res.Failed, res.Duration.Round(time.Millisecond))
		return nil
	},
}
