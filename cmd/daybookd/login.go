package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jotworks/daybook/internal/lifecycle"
)

var (
	loginUser  string
	loginNew   bool
	loginMerge bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and sync the user's namespace",
	Long: `Sign in as a user, switching to that user's isolated namespace.

Anonymous data written before signing in can be merged: for a new account
it is migrated wholesale; for an existing account each entry is kept only
if newer than the server's copy. Either way the anonymous copy is
discarded after the merge.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		userID := strings.TrimSpace(loginUser)
		merge := loginMerge

		if userID == "" {
			anonHasData, err := a.mgr.HasData(ctx, lifecycle.Anonymous)
			if err != nil {
				anonHasData = false
			}

			fields := []huh.Field{
				huh.NewInput().
					Title("User ID").
					Value(&userID).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("user ID is required")
						}
						return nil
					}),
			}
			if anonHasData && !cmd.Flags().Changed("merge") {
				fields = append(fields, huh.NewConfirm().
					Title("Bring your anonymous notes into this account?").
					Value(&merge))
			}
			form := huh.NewForm(huh.NewGroup(fields...))
			if err := form.Run(); err != nil {
				return err
			}
			userID = strings.TrimSpace(userID)
		}

		isNew := loginNew
		if !cmd.Flags().Changed("new") {
			hasData, err := a.router.HasData(ctx, userID)
			if err == nil {
				isNew = !hasData
			}
		}

		if err := a.router.LoginStart(ctx, userID, isNew, merge); err != nil {
			return err
		}
		if err := a.saveSession(userID); err != nil {
			return err
		}
		fmt.Printf("Signed in as %s\n", userID)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "user ID to sign in as")
	loginCmd.Flags().BoolVar(&loginNew, "new", false, "treat the account as newly created")
	loginCmd.Flags().BoolVar(&loginMerge, "merge", false, "merge anonymous data into the account")
}
