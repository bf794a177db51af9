package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newJournalCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read the private journal",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			owner, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			entries, err := a.journal.Load(ctx, owner)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]\n%s\n\n", entry.Date, entry.ID, entry.Content)
			}
			return nil
		}),
	}

	var date string
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Write an encrypted journal entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			owner, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			if date == "" {
				date = time.Now().Format(time.DateOnly)
			}
			entry, err := a.journal.Create(ctx, owner, strings.Join(args, " "), date)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved entry %s for %s\n", entry.ID, entry.Date)
			return nil
		}),
	}
	add.Flags().StringVar(&date, "date", "", "entry date as YYYY-MM-DD (today when empty)")

	var editDate string
	edit := &cobra.Command{
		Use:   "edit <id> <text>",
		Short: "Replace a journal entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			owner, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			if editDate == "" {
				editDate = time.Now().Format(time.DateOnly)
			}
			_, err = a.journal.Update(ctx, owner, args[0], strings.Join(args[1:], " "), editDate)
			return err
		}),
	}
	edit.Flags().StringVar(&editDate, "date", "", "entry date as YYYY-MM-DD (today when empty)")

	show := &cobra.Command{
		Use:   "show <date>",
		Short: "Show the entry written for a date",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			owner, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			entry, err := a.journal.GetByDate(ctx, owner, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry.Content)
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			owner, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			return a.journal.Remove(ctx, owner, args[0])
		}),
	}

	cmd.AddCommand(add, edit, show, rm)
	return cmd
}

func newBookmarksCommand(opts *rootOptions) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "List bookmarked notes",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if offline {
				event, err := a.bookmarks.Cached(ctx)
				if err != nil || event == nil {
					return err
				}
				for _, tag := range event.Tags {
					if len(tag) >= 2 && tag[0] == "e" {
						fmt.Fprintln(cmd.OutOrStdout(), tag[1])
					}
				}
				return nil
			}

			pair, err := a.accounts.Current(ctx)
			if err != nil {
				return err
			}
			ids, err := a.bookmarks.IDs(ctx, pair.PublicKey)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "show the last fetched list without asking relays")

	set := func(use, short string, bookmarked bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
				signer, err := a.accounts.Signer(ctx)
				if err != nil {
					return err
				}
				return a.bookmarks.Set(ctx, signer, strings.ToLower(args[0]), bookmarked)
			}),
		}
	}
	cmd.AddCommand(set("add", "Bookmark a note", true), set("rm", "Remove a bookmark", false))
	return cmd
}
