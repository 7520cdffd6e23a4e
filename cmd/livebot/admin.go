package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xXDeath420Xx/livebot/internal/platform/config"
	"github.com/xXDeath420Xx/livebot/internal/platform/correlation"
)

func purgeCmd(load func() *config.Config) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "purge <streamer-id>",
		Short: "Remove every announcement, session, subscription and live role of a streamer and blacklist it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamerID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid streamer id %q: %w", args[0], err)
			}

			ctx := correlation.WithID(cmd.Context(), correlation.NewID())
			c, err := build(ctx, load())
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.service.PurgeIdentity(ctx, streamerID, reason)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.String())
			if report.Failed() > 0 {
				return fmt.Errorf("%d purge steps failed", report.Failed())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual purge", "reason recorded on the blacklist entry")
	return cmd
}

func syncTeamsCmd(load func() *config.Config) *cobra.Command {
	var teamID string

	cmd := &cobra.Command{
		Use:   "sync-teams",
		Short: "Sync team rosters into subscriptions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := correlation.WithID(cmd.Context(), correlation.NewID())
			c, err := build(ctx, load())
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if teamID != "" {
				id, err := uuid.Parse(teamID)
				if err != nil {
					return fmt.Errorf("invalid team id %q: %w", teamID, err)
				}
				res, err := c.service.SyncTeam(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: +%d -%d linked %d excluded %d\n", res.Team, res.Added, res.Removed, res.Linked, res.Excluded)
				return nil
			}

			results, err := c.service.SyncTeams(ctx)
			if err != nil {
				return err
			}
			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
					fmt.Fprintf(out, "%s: FAIL %v\n", res.Team, res.Err)
					continue
				}
				fmt.Fprintf(out, "%s: +%d -%d linked %d excluded %d\n", res.Team, res.Added, res.Removed, res.Linked, res.Excluded)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d teams failed to sync", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&teamID, "team", "", "sync only this team id")
	return cmd
}

func reconcileCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := correlation.WithID(cmd.Context(), correlation.NewID())
			c, err := build(ctx, load())
			if err != nil {
				return err
			}
			defer c.Close()

			summary, err := c.service.TriggerPass(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d subscriptions, %d identities, %d live, %d unknown, %d failed, %d jobs enqueued in %s\n",
				summary.Subscriptions, summary.Identities, summary.Live, summary.Unknown, summary.Failed,
				summary.TotalEnqueued(), summary.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func deadLettersCmd(load func() *config.Config) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List the newest jobs that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(cmd.Context(), load())
			if err != nil {
				return err
			}
			defer c.Close()

			letters, err := c.service.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(letters)
			}
			if len(letters) == 0 {
				fmt.Fprintln(out, "No dead letters")
				return nil
			}
			for _, dl := range letters {
				fmt.Fprintf(out, "%s  %-20s %s  %s\n", dl.FailedAt.Format(time.RFC3339), dl.Action.Kind, dl.Action.Key(), dl.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of dead letters")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}
