package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var entryMessage string

var entryCmd = &cobra.Command{
	Use:   "entry [date]",
	Short: "Read or write the entry for a date",
	Long: `Read or write the entry for a date.

The date may be a plain YYYY-MM-DD or natural language ("today",
"yesterday", "last friday"). With -m the entry is written; without it the
entry is printed.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := resolveDate(strings.Join(args, " "))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if cmd.Flags().Changed("message") {
			e, err := a.router.SaveEntry(ctx, date, entryMessage)
			if err != nil {
				return err
			}
			fmt.Printf("Saved entry for %s\n", e.Date)
			return nil
		}

		e, err := a.router.GetEntry(ctx, date)
		if err != nil {
			return err
		}
		if e == nil {
			fmt.Printf("No entry for %s\n", date)
			return nil
		}
		fmt.Printf("%s\n\n%s\n", e.Date, e.Content)
		return nil
	},
}

var entryRmCmd = &cobra.Command{
	Use:   "rm [date]",
	Short: "Delete the entry for a date",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := resolveDate(strings.Join(args, " "))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if err := a.router.DeleteEntry(ctx, date); err != nil {
			return err
		}
		fmt.Printf("Deleted entry for %s\n", date)
		return nil
	},
}

func init() {
	entryCmd.Flags().StringVarP(&entryMessage, "message", "m", "", "entry content to save")
	entryCmd.AddCommand(entryRmCmd)
}

// resolveDate turns user input into a YYYY-MM-DD key. Empty input means
// today; exact dates pass through; everything else goes to the natural
// language parser.
func resolveDate(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Now().Format("2006-01-02"), nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t.Format("2006-01-02"), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(input, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", input, err)
	}
	if r == nil {
		return "", fmt.Errorf("could not understand date %q", input)
	}
	return r.Time.Format("2006-01-02"), nil
}
