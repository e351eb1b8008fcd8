package main

import (
	"context"
	"fmt"
	"time"

	"petboarding/internal/catalog"
	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/events"
	"petboarding/internal/export"
	"petboarding/internal/service"
	"petboarding/internal/worker"

	"github.com/spf13/cobra"
)

func serviceOptions(e *env) service.Options {
	return service.Options{
		HoldWindow:         e.cfg.Booking.HoldWindow(),
		MaxPaymentFailures: e.cfg.Booking.MaxPaymentFailures,
		MaxBookingDays:     e.cfg.Booking.MaxBookingDays,
		SweepBatchSize:     e.cfg.Booking.SweepBatchSize,
	}
}

// publisher queues every event in notification_queue; the server's worker delivers them.
func publisher(e *env) *events.EventBus {
	bus := events.NewEventBus()
	w := worker.NewNotificationWorker(e.db, nil, nil, worker.RetryPolicy{}, 0, e.logger)
	w.Subscribe(bus)
	return bus
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release expired holds once (baskets first, then orphaned reservations)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			sweeper := service.NewSweepService(e.db, publisher(e), domain.SystemClock{}, serviceOptions(e), e.logger)
			res, err := sweeper.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired baskets: %d, expired reservations: %d\n", res.Baskets, res.Reservations)
			return err
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var planningID, from, to, dir string

	c := &cobra.Command{
		Use:   "export",
		Short: "Write an occupancy spreadsheet (xlsx) for one or all active plannings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := dateRange(from, to)
			if err != nil {
				return err
			}
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if dir == "" {
				dir = e.cfg.Exports.Path
			}
			path, err := export.NewOccupancyExporter(e.db, dir, e.logger).ExportOccupancy(cmd.Context(), planningID, start, end)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	c.Flags().StringVar(&planningID, "planning", "", "planning id (default: all active plannings)")
	c.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: today)")
	c.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: --from)")
	c.Flags().StringVar(&dir, "dir", "", "output directory (default: exports.path)")
	return c
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var file string

	c := &cobra.Command{
		Use:   "seed",
		Short: "Create plannings and slots from a catalog file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Load(file)
			if err != nil {
				return err
			}
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			booking := service.NewBookingService(e.db, events.NewEventBus(), domain.SystemClock{}, nil, serviceOptions(e), e.logger)
			res, err := catalog.NewSeeder(booking, e.db, e.logger).Apply(ctx, cat, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created: %d, extended: %d, slots added: %d\n", res.Created, res.Extended, res.SlotsAdded)
			return nil
		},
	}

	c.Flags().StringVar(&file, "file", "configs/catalog.yaml", "catalog yaml")
	return c
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database now and prune old snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			svc := database.NewBackupService(e.db, e.cfg.Backup, e.logger)
			path, err := svc.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			removed := svc.CleanupOldBackups(time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "%s (pruned %d)\n", path, removed)
			return nil
		},
	}
}
