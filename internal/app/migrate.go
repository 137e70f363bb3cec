package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"fed-liquidity/internal/storage"
)

// Migrate applies pending schema migrations, or only reports their state.
func (a *App) Migrate(ctx context.Context, opts MigrateOptions) error {
	store, closeStore, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.StatusOnly {
		return a.printMigrationStatus(ctx, store)
	}

	applied, err := a.applyMigrations(ctx, store)
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "schema is up to date")
	}
	return nil
}

func (a *App) printMigrationStatus(ctx context.Context, store *storage.Store) error {
	migrator, err := storage.NewMigrator(store, a.Logger)
	if err != nil {
		return err
	}
	status, err := migrator.Status(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Migration\tSeq\tApplied At (UTC)")
	for _, m := range status.Applied {
		fmt.Fprintf(writer, "%s\t%d\t%s\n", m.Name, m.Seq, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, name := range status.Pending {
		fmt.Fprintf(writer, "%s\t-\tpending\n", name)
	}
	return writer.Flush()
}
