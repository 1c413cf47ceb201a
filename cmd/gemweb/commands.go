package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mzahmed/gemweb/internal/cookies"
	"github.com/mzahmed/gemweb/internal/history"
)

func newCookiesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Manage stored browser session cookies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Store one cookie value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cookies.NewStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Stored %s (%s)\n", args[0], cookies.MaskValue(args[1]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List stored cookies with masked values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cookies.NewStore()
			if err != nil {
				return err
			}
			all, err := store.All()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(app.Out, "No cookies stored.")
				return nil
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(app.Out, "%s = %s\n", name, cookies.MaskValue(all[name]))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all stored cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cookies.NewStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Cookies cleared.")
			return nil
		},
	})

	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent invocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.NewStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(app.Out, "No history yet.")
				return nil
			}

			for _, rec := range records {
				line := fmt.Sprintf("%s  [%s/%s] %s",
					humanize.Time(rec.Timestamp), rec.Operation, rec.Model, truncatePrompt(rec.Prompt, 60))
				if rec.OutputPath != "" {
					line += fmt.Sprintf(" -> %s (%d image(s))", rec.OutputPath, rec.ImageCount)
				}
				fmt.Fprintln(app.Out, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	return cmd
}

// truncatePrompt shortens a prompt to max characters, counting runes so a
// multi-byte character is never cut mid-sequence.
func truncatePrompt(prompt string, max int) string {
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return string(runes[:max-3]) + "..."
}
