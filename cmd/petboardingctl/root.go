package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"petboarding/internal/config"
	"petboarding/internal/database"
	"petboarding/internal/logging"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "petboardingctl",
		Short:         "Operator tool for the pet boarding engine: sweeps, exports, seeding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to config file (.yaml or .toml)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSweepCmd(opts))
	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newSeedCmd(opts))
	root.AddCommand(newBackupCmd(opts))
	root.AddCommand(newAvailabilityCmd(opts))
	root.AddCommand(newCancelCmd(opts))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "petboardingctl %s (%s)\n", Version, CommitSHA)
			return nil
		},
	}
}

// env is what every local command needs: config, logger and the sqlite store.
type env struct {
	cfg    *config.Config
	logger *zerolog.Logger
	closer io.Closer
	db     *database.DB
}

func (o *rootOptions) load() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &env{cfg: cfg, logger: logging.Component(logger, "ctl"), closer: closer}, nil
}

func (o *rootOptions) open() (*env, error) {
	e, err := o.load()
	if err != nil {
		return nil, err
	}
	e.db, err = database.NewDB(e.cfg.Database.Path, e.logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

// dateRange parses --from/--to. An empty --to means the same day, an empty --from means today.
func dateRange(from, to string) (time.Time, time.Time, error) {
	start := models.DateOf(time.Now())
	if from != "" {
		d, err := models.ParseDate(from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: expected YYYY-MM-DD", from)
		}
		start = d
	}
	end := start
	if to != "" {
		d, err := models.ParseDate(to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: expected YYYY-MM-DD", to)
		}
		end = d
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, models.ErrInvalidDateRange
	}
	return start, end, nil
}
