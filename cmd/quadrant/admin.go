package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/metrics"
	"github.com/UnknownOlympus/quadrant/internal/queue"
	"github.com/UnknownOlympus/quadrant/internal/repository"
	"github.com/UnknownOlympus/quadrant/internal/service"
)

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return tasks claimed longer than the stale timeout to the pending list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			q, rdb, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()

			// Only the janitor pass is used, so no provider or store.
			w := service.NewWorker(a.log, q, nil, nil, metrics.NewMetrics(nil), a.workerConfig())
			recovered, err := w.Recover(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d stale task(s)\n", recovered)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print queue depth and the number of stored businesses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			q, rdb, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()

			repo, pool, err := a.openRepository(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			return printStatus(ctx, cmd.OutOrStdout(), q, repo)
		},
	}
}

// printStatus writes queue depth and the stored business count.
func printStatus(ctx context.Context, out io.Writer, q queue.Queue, repo repository.Interface) error {
	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}

	count, err := repo.CountBusinesses(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "pending:    %d\n", stats.Pending)
	fmt.Fprintf(out, "in flight:  %d\n", stats.InFlight)
	fmt.Fprintf(out, "businesses: %d\n", count)
	return nil
}

func newBusinessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "business <place_id>",
		Short: "Print one stored business and the keywords that found it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, pool, err := a.openRepository(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			return printBusiness(ctx, cmd.OutOrStdout(), repo, args[0])
		},
	}
}

// printBusiness writes one business record.
func printBusiness(ctx context.Context, out io.Writer, repo repository.Interface, placeID string) error {
	business, err := repo.GetBusiness(ctx, placeID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "place id:  %s\n", business.PlaceID)
	fmt.Fprintf(out, "name:      %s\n", business.Name)
	fmt.Fprintf(out, "city:      %s\n", business.City)
	fmt.Fprintf(out, "address:   %s\n", business.Address)
	fmt.Fprintf(out, "category:  %s\n", business.Category)
	fmt.Fprintf(out, "url:       %s\n", business.URL())
	fmt.Fprintf(out, "keywords:  %s\n", strings.Join(business.Keywords, ", "))
	return nil
}

func newResetCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every pending and in-flight task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.New("reset drops all queued work, pass --force to confirm")
			}

			ctx := cmd.Context()
			q, rdb, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()

			if err = q.Reset(ctx); err != nil {
				return err
			}
			a.log.Warn("Queue reset", zap.String("prefix", a.cfg.Redis.KeyPrefix))
			fmt.Fprintln(cmd.OutOrStdout(), "queue reset")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm deleting all queued tasks")
	return cmd
}
