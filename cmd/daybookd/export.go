package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the active namespace's data as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		snap, err := a.router.ExportAllData(ctx)
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", exportOut, err)
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "write to file instead of stdout")
}
