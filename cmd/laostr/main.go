package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/laostr/internal/account"
	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/entities"
	"github.com/sandwichfarm/laostr/internal/feed"
	"github.com/sandwichfarm/laostr/internal/journal"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
	"github.com/sandwichfarm/laostr/internal/ops"
	"github.com/sandwichfarm/laostr/internal/profile"
	"github.com/sandwichfarm/laostr/internal/ranking"
	"github.com/sandwichfarm/laostr/internal/storage"
	"github.com/sandwichfarm/laostr/internal/zaps"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

type rootOptions struct {
	configPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "laostr",
		Short:         "laostr - a terminal Nostr client",
		Long:          "Reads, ranks and posts Nostr notes from the terminal.",
		Version:       fmt.Sprintf("%s (commit %s, built %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (built-in defaults when empty)")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newAccountCommands(opts)...)
	cmd.AddCommand(newFeedCommands(opts)...)
	cmd.AddCommand(newJournalCommand(opts))
	cmd.AddCommand(newBookmarksCommand(opts))
	cmd.AddCommand(newRelaysCommand(opts))

	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print an example configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GetExampleConfig()
			if err != nil {
				return fmt.Errorf("failed to read example config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// app holds the wired components for one command invocation
type app struct {
	cfg       *config.Config
	logger    *ops.Logger
	storage   *storage.Storage
	kv        storage.KV
	client    *gateway.Client
	graph     *feed.Graph
	feed      *feed.Controller
	profiles  *profile.Service
	mentions  *entities.Resolver
	accounts  *account.Manager
	affinity  *ranking.Affinity
	tracker   *ranking.Tracker
	scorer    *ranking.Scorer
	journal   *journal.Journal
	bookmarks *journal.Bookmarks
	zaps      *zaps.Counter
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := ops.NewLogger(&cfg.Logging)
	logger.LogStartup(version, commit, map[string]interface{}{
		"relays":  len(cfg.Relays.Seeds),
		"storage": cfg.Storage.Driver,
		"state":   cfg.State.Engine,
	})

	st, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	kv, err := storage.NewKV(ctx, &cfg.State, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		storage: st,
		kv:      kv,
		client:  gateway.New(ctx, &cfg.Relays, logger),
	}
	a.graph = feed.NewGraph(a.client, &cfg.Scope, logger)
	a.feed = feed.NewController(a.client, a.graph, st, &cfg.Feed, logger)
	a.profiles = profile.NewService(a.client, logger)
	a.mentions = entities.NewResolver(a.profiles, st)
	a.accounts = account.NewManager(kv, logger)
	a.affinity = ranking.NewAffinity(kv, &cfg.Ranking, logger)
	a.tracker = ranking.NewTracker(a.affinity, a.feed.Store(), logger)
	a.scorer = ranking.NewScorer(&cfg.Ranking)
	a.journal = journal.New(a.client, logger)
	a.bookmarks = journal.NewBookmarks(a.client, kv, logger)
	a.zaps = zaps.New(a.client, logger)

	if err := a.affinity.Load(ctx); err != nil {
		logger.Warn("failed to load interest profile", "error", err)
	}
	if pair, err := a.accounts.Current(ctx); err == nil {
		a.feed.SetUser(pair.PublicKey)
	}
	return a, nil
}

func (a *app) Close() {
	a.client.Close()
	if closer, ok := a.kv.(io.Closer); ok {
		closer.Close()
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("failed to close storage", "error", err)
	}
	a.logger.LogShutdown("command finished")
}

// recoverPanic logs a panic with its stack and turns it into err
func (a *app) recoverPanic(err *error) {
	if r := recover(); r != nil {
		a.logger.LogPanic(r, string(debug.Stack()))
		*err = fmt.Errorf("internal error: %v", r)
	}
}

// withApp runs fn with a freshly wired app and closes it afterwards
func withApp(opts *rootOptions, fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := openApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.recoverPanic(&err)

		err = fn(ctx, a, cmd, args)
		if errors.Is(err, feed.ErrUnauthenticated) {
			return fmt.Errorf("%w (run 'laostr login' or 'laostr create' first)", err)
		}
		return err
	}
}
