package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/library-lending-go/config"
	"github.com/AntonStoeckl/library-lending-go/journal/sqljournal"
)

func newSchemaCommand(a *app) *cobra.Command {
	var (
		dialect string
		apply   bool
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the SQL journal schema, or create it with --apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apply {
				if a.cfg.Journal == config.JournalMemory {
					return fmt.Errorf("%w: --apply needs --journal sqlite or postgres", config.ErrUnknownJournal)
				}

				store, err := openBackend(cmd.Context(), a.cfg, sqljournal.WithLogger(a.logger))
				if err != nil {
					return err
				}
				defer store.close()

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema ready in %s\n", store.name)

				return err
			}

			if dialect == "" {
				dialect = dialectOf(a.cfg.Journal)
			}

			ddl, err := sqljournal.Schema(dialect, a.cfg.JournalTable, a.cfg.SnapshotTable)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), ddl)

			return err
		},
	}

	cmd.Flags().StringVar(&dialect, "dialect", "",
		"postgres or sqlite3 (default: derived from the journal backend)")
	cmd.Flags().BoolVar(&apply, "apply", false, "create the tables in the configured database")

	return cmd
}

func dialectOf(journalBackend string) string {
	if journalBackend == config.JournalSQLite {
		return sqljournal.DialectSQLite
	}

	return sqljournal.DialectPostgres
}
