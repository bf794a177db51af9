package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/laostr/internal/keys"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
)

func newAccountCommands(opts *rootOptions) []*cobra.Command {
	return []*cobra.Command{
		newLoginCommand(opts),
		newCreateCommand(opts),
		newWhoamiCommand(opts),
		newLogoutCommand(opts),
		newAccountsCommand(opts),
		newFollowCommand(opts, true),
		newFollowCommand(opts, false),
	}
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login [nsec]",
		Short: "Log in with a secret key (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read secret key: %w", err)
				}
				secret = strings.TrimSpace(line)
			}

			pair, err := a.accounts.Setup(ctx, secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", pair.Npub)
			return nil
		}),
	}
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Generate a new account and log in with it",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			pair, err := a.accounts.Create(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", pair.Npub)
			fmt.Fprintf(out, "Secret key: %s\n", pair.Nsec)
			fmt.Fprintln(out, "Keep the secret key safe; it cannot be recovered.")
			return nil
		}),
	}
}

func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in account and its profile",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			pair, err := a.accounts.Current(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "npub:   %s\n", pair.Npub)
			fmt.Fprintf(out, "pubkey: %s\n", pair.PublicKey)

			p, err := a.profiles.Get(ctx, pair.PublicKey)
			switch {
			case err == nil:
				if err := a.accounts.SaveProfile(ctx, p); err != nil {
					a.logger.Warn("failed to cache profile", "error", err)
				}
			case errors.Is(err, gateway.ErrNotFound):
				fmt.Fprintln(out, "No profile published yet.")
				return nil
			default:
				// offline: fall back to the last profile seen
				a.logger.Warn("profile lookup failed", "error", err)
				if p, err = a.accounts.Profile(ctx); err != nil || p == nil {
					return nil
				}
			}

			fmt.Fprintf(out, "name:   %s\n", p.Label())
			if p.About != "" {
				fmt.Fprintf(out, "about:  %s\n", p.About)
			}
			if p.NIP05 != "" {
				fmt.Fprintf(out, "nip05:  %s\n", p.NIP05)
			}
			return nil
		}),
	}
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of the current account",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return a.accounts.Logout(ctx)
		}),
	}
}

func newAccountsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List remembered accounts",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			list, err := a.accounts.List(ctx)
			if err != nil {
				return err
			}
			current := ""
			if pair, err := a.accounts.Current(ctx); err == nil {
				current = pair.PublicKey
			}
			for _, pair := range list {
				marker := " "
				if pair.PublicKey == current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, pair.Npub)
			}
			return nil
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "switch <npub>",
		Short: "Make a remembered account current",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			pair, err := a.accounts.Switch(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", pair.Npub)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <npub>",
		Short: "Forget a remembered account",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return a.accounts.Remove(ctx, args[0])
		}),
	})
	return cmd
}

func newFollowCommand(opts *rootOptions, follow bool) *cobra.Command {
	use, short := "follow <npub>", "Follow a user"
	if !follow {
		use, short = "unfollow <npub>", "Unfollow a user"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			target, err := keys.NormalizePubkey(args[0])
			if err != nil {
				return err
			}
			signer, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			if err := a.graph.SetFollow(ctx, signer, target, follow); err != nil {
				return err
			}
			following, err := a.graph.IsFollowing(ctx, signer.Pubkey(), target)
			if err != nil {
				a.logger.Debug("follow check failed", "error", err)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "following %s: %t\n", target, following)
			return nil
		}),
	}
}

func newRelaysCommand(opts *rootOptions) *cobra.Command {
	var discover bool
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "List relays, optionally adding the ones your account publishes to",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if discover {
				pair, err := a.accounts.Current(ctx)
				if err != nil {
					return err
				}
				added, err := a.client.DiscoverRelays(ctx, pair.PublicKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d relays\n", added)
			}
			for _, url := range a.client.Relays() {
				fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&discover, "discover", false, "add relays from your relay list")

	cmd.AddCommand(&cobra.Command{
		Use:   "publish",
		Short: "Publish the current relays as your relay list",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			signer, err := a.accounts.Signer(ctx)
			if err != nil {
				return err
			}
			relays := a.client.Relays()
			hints := make([]gateway.RelayHint, 0, len(relays))
			for _, url := range relays {
				hints = append(hints, gateway.RelayHint{URL: url, Read: true, Write: true})
			}

			event := gateway.BuildRelayListEvent(hints)
			if err := signer.Sign(event); err != nil {
				return err
			}
			if err := a.client.Publish(ctx, event); err != nil {
				return fmt.Errorf("failed to publish relay list: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published relay list with %d relays\n", len(hints))
			return nil
		}),
	})
	return cmd
}
