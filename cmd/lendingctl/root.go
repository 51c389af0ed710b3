package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/library-lending-go/config"
)

// app is shared by all commands. It is filled by the root command before any subcommand runs.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	journalFlag string
	driverFlag  string
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "lendingctl",
		Short:        "Run and inspect the library lending engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.journalFlag, "journal", "",
		"journal backend: memory, sqlite or postgres (default from LENDING_JOURNAL)")
	root.PersistentFlags().StringVar(&a.driverFlag, "driver", "",
		"postgres client: pgx, sql or sqlx (default from LENDING_DB_DRIVER)")

	root.AddCommand(newSimulateCommand(a), newSchemaCommand(a))

	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if a.journalFlag != "" {
		cfg.Journal = a.journalFlag
	}

	if a.driverFlag != "" {
		cfg.DBDriver = a.driverFlag
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	return nil
}
