package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/sandwichfarm/laostr/internal/feed"
	"github.com/sandwichfarm/laostr/internal/profile"
	"github.com/sandwichfarm/laostr/internal/ranking"
	"github.com/sandwichfarm/laostr/internal/zaps"
)

type feedOptions struct {
	mode    string
	hashtag string
	limit   int
	ranked  bool
	older   int
}

func (o *feedOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.mode, "mode", "m", "", "feed mode (for-you|following|hashtag)")
	cmd.Flags().StringVarP(&o.hashtag, "hashtag", "t", "", "hashtag for the hashtag feed")
	cmd.Flags().IntVarP(&o.limit, "limit", "n", 0, "notes per page (config default when 0)")
}

func (o *feedOptions) query(a *app) (feed.Query, error) {
	q := feed.Query{Hashtag: o.hashtag, Limit: o.limit}
	mode := o.mode
	if mode == "" && o.hashtag != "" {
		mode = string(feed.ModeHashtag)
	}
	if mode == "" {
		mode = a.cfg.Feed.DefaultMode
	}
	m, err := feed.ParseMode(mode)
	if err != nil {
		return q, err
	}
	q.Mode = m
	return q, nil
}

func newFeedCommands(opts *rootOptions) []*cobra.Command {
	return []*cobra.Command{
		newFeedCommand(opts),
		newSearchCommand(opts),
		newWatchCommand(opts),
		newPostCommand(opts),
		newNoteCommand(opts),
		newInteractCommand(opts, ranking.ActionLike, "like", "Record that you liked a note"),
		newInteractCommand(opts, ranking.ActionRepost, "repost", "Record that you reposted a note"),
		newInteractCommand(opts, ranking.ActionReply, "reply", "Record that you replied to a note"),
		newInterestCommand(opts),
	}
}

func newFeedCommand(opts *rootOptions) *cobra.Command {
	fo := &feedOptions{}
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show a page of the feed",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			q, err := fo.query(a)
			if err != nil {
				return err
			}

			if restored, err := a.feed.Restore(ctx, q); err != nil {
				a.logger.Warn("failed to restore cached notes", "error", err)
			} else if restored > 0 {
				a.logger.Debug("restored cached notes", "count", restored)
			}

			notes, err := a.feed.LoadNotesOnce(ctx, q)
			if err != nil {
				return err
			}
			for i := 0; i < fo.older; i++ {
				more, err := a.feed.LoadOlderNotes(ctx, q)
				if err != nil {
					return err
				}
				if !more {
					break
				}
			}
			if fo.older > 0 {
				notes = a.feed.Notes()
			}

			if fo.ranked {
				snap := a.affinity.Snapshot()
				notes = a.scorer.Rank(notes, snap)
				if a.logger.IsDebugEnabled() {
					for _, note := range notes {
						a.logger.Debug("ranked note", "id", note.ID, "score", a.scorer.Score(note, snap))
					}
				}
			}
			return printNotes(ctx, cmd.OutOrStdout(), a, notes)
		}),
	}
	fo.bind(cmd)
	cmd.Flags().BoolVar(&fo.ranked, "ranked", false, "order notes by engagement, freshness and your interests")
	cmd.Flags().IntVar(&fo.older, "older", 0, "also load this many older pages")
	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	fo := &feedOptions{}
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search the latest page of a feed",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			q, err := fo.query(a)
			if err != nil {
				return err
			}
			matches, err := a.feed.SearchNotes(ctx, strings.Join(args, " "), q)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching notes.")
				return nil
			}
			return printNotes(ctx, cmd.OutOrStdout(), a, matches)
		}),
	}
	fo.bind(cmd)
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	fo := &feedOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new notes until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			q, err := fo.query(a)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			notes, err := a.feed.LoadNotesOnce(ctx, q)
			if err != nil {
				return err
			}
			if err := printNotes(ctx, out, a, notes); err != nil {
				return err
			}

			live, err := a.feed.SubscribeNotes(ctx, q)
			if err != nil {
				return err
			}
			defer live.Close()

			// relays drop subscriptions silently, so poll as well; polled
			// notes arrive on the same live channel
			scheduler := cron.New()
			poll := a.cfg.Feed.PollSeconds
			if poll <= 0 {
				poll = 30
			}
			if _, err := scheduler.AddFunc(fmt.Sprintf("@every %ds", poll), func() {
				defer a.recoverPanic(new(error))
				sent, err := live.Poll(ctx)
				if err != nil && !errors.Is(err, feed.ErrBusy) {
					a.logger.Warn("check for new notes failed", "error", err)
					return
				}
				if sent > 0 {
					a.logger.Debug("poll found new notes", "count", sent, "hwm", a.feed.HighWaterMark())
				}
			}); err != nil {
				return fmt.Errorf("failed to schedule polling: %w", err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-live.Events():
					if !ok {
						return nil
					}
					if err := printNotes(ctx, out, a, []*nostr.Event{event}); err != nil {
						return err
					}
				}
			}
		}),
	}
	fo.bind(cmd)
	return cmd
}

func newPostCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "post <text>",
		Short: "Publish a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			signer, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			event, err := a.feed.PostNote(ctx, strings.Join(args, " "), signer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", event.ID)
			return nil
		}),
	}
}

func newNoteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "note <id>",
		Short: "Show a single note and count it as viewed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			event, err := a.feed.GetNoteByID(ctx, args[0])
			if err != nil {
				return err
			}
			a.tracker.Record(ctx, event, ranking.ActionView)
			if err := printNotes(ctx, cmd.OutOrStdout(), a, []*nostr.Event{event}); err != nil {
				return err
			}
			stats, err := a.zaps.GetZapStats(ctx, event.ID)
			if err != nil {
				a.logger.Warn("zap lookup failed", "id", event.ID, "error", err)
				return nil
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d zaps  %s\n", stats.Count, zaps.FormatSats(stats.TotalSats))
			return err
		}),
	}
}

func newInteractCommand(opts *rootOptions, action ranking.Action, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			event, err := a.feed.GetNoteByID(ctx, args[0])
			if err != nil {
				return err
			}
			a.tracker.Record(ctx, event, action)
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s\n", action, event.ID)
			return nil
		}),
	}
}

func newInterestCommand(opts *rootOptions) *cobra.Command {
	var (
		topics int
		limit  int
		pages  int
	)
	cmd := &cobra.Command{
		Use:   "interests",
		Short: "Show notes on the topics you engage with most",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			top := a.affinity.TopTopics(topics)
			if len(top) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No interests recorded yet; like or view some notes first.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Topics: #%s\n\n", strings.Join(top, " #"))

			for i := 0; i < max(pages, 1); i++ {
				page, err := a.feed.LoadInterestFeed(ctx, top, limit)
				if err != nil {
					return err
				}
				if len(page) == 0 {
					break
				}
			}
			notes := a.scorer.Rank(a.feed.Notes(), a.affinity.Snapshot())
			return printNotes(ctx, cmd.OutOrStdout(), a, notes)
		}),
	}
	cmd.Flags().IntVar(&topics, "topics", 5, "number of top topics to follow")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "notes per page")
	cmd.Flags().IntVar(&pages, "pages", 1, "pages to load")
	return cmd
}

func printNotes(ctx context.Context, w io.Writer, a *app, notes []*nostr.Event) error {
	authors := make([]string, 0, len(notes))
	for _, note := range notes {
		authors = append(authors, note.PubKey)
	}
	profiles, err := a.profiles.GetBatch(ctx, authors)
	if err != nil {
		a.logger.Debug("profile lookup failed", "error", err)
		profiles = map[string]*profile.Profile{}
	}

	for _, note := range notes {
		name := note.PubKey
		if len(name) > 12 {
			name = name[:12]
		}
		if p, ok := profiles[note.PubKey]; ok && p != nil {
			name = p.Label()
		}
		text, _ := a.mentions.Render(ctx, note.Content)
		if _, err := fmt.Fprintf(w, "%s  %s  %s\n%s\n\n",
			note.ID, name, note.CreatedAt.Time().Format(time.DateTime), text); err != nil {
			return err
		}
	}
	return nil
}
