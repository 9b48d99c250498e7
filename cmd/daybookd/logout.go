package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and return to the anonymous namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if err := a.router.Logout(ctx); err != nil {
			return err
		}
		a.clearSession()
		fmt.Println("Signed out")
		return nil
	},
}
