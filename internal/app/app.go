package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fed-liquidity/internal/alerting"
	"fed-liquidity/internal/config"
	"fed-liquidity/internal/fetcher"
	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/logging"
	"fed-liquidity/internal/scheduler"
	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logging.Component(logger, "app"),
		Out:    os.Stdout,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *App) today() liquidity.Date {
	return liquidity.DateOf(a.now())
}

func (a *App) newFetchers() (*fetcher.FRED, *fetcher.NYFed) {
	fred := fetcher.NewFRED(fetcher.FREDOptions{
		BaseURL:   a.Config.FRED.BaseURL,
		APIKey:    a.Config.FRED.APIKey,
		Timeout:   a.Config.FRED.RequestTimeout,
		UserAgent: a.Config.FRED.UserAgent,
	}, a.Logger)

	nyfed := fetcher.NewNYFed(fetcher.NYFedOptions{
		BaseURL:   a.Config.NYFed.BaseURL,
		Timeout:   a.Config.NYFed.RequestTimeout,
		UserAgent: a.Config.NYFed.UserAgent,
	}, a.Logger)

	return fred, nyfed
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

// openStore connects to database.dsn. With migrate set, pending schema
// migrations are applied before the store is handed out.
func (a *App) openStore(ctx context.Context, migrate bool) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	}

	if migrate {
		if _, err := a.applyMigrations(ctx, store); err != nil {
			closer()
			return nil, nil, err
		}
	}
	return store, closer, nil
}

func (a *App) applyMigrations(ctx context.Context, store *storage.Store) ([]string, error) {
	migrator, err := storage.NewMigrator(store, a.Logger)
	if err != nil {
		return nil, err
	}
	applied, err := migrator.ApplyPending(ctx)
	if err != nil {
		return applied, err
	}
	if len(applied) > 0 {
		a.Logger.Info().Strs("migrations", applied).Msg("schema migrated")
	}
	return applied, nil
}

func (a *App) newIngestor(store *storage.Store, notifier alerting.Notifier) *service.Ingestor {
	fred, nyfed := a.newFetchers()

	var (
		writer     storage.ObservationWriter
		reader     storage.ObservationReader
		alertStore storage.AlertStore
	)
	if store != nil {
		writer = store
		reader = store
		alertStore = store
	}
	return service.NewIngestor(a.Config, fred, nyfed, writer, reader, alertStore, notifier, a.Logger)
}

// Collect runs ingestion on the scheduler until SIGINT or SIGTERM.
func (a *App) Collect(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	ingestor := a.newIngestor(store, a.newNotifier())
	repo := a.newRepoService(store)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Int("lookback_days", a.Config.Ingest.LookbackDays).
		Int("repo_lookback_days", a.Config.Ingest.RepoLookbackDays).
		Msg("starting collector")
	err = sched.Run(ctx, collectTick(ingestor.Collect, repo.Tick))
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("collector terminated with error")
		return err
	}

	a.Logger.Info().Msg("collector stopped")
	return nil
}

// collectTick runs every tick in order and joins their errors, so a failing
// repo-market fetch does not hide a successful balance-sheet ingest.
func collectTick(ticks ...scheduler.TickFunc) scheduler.TickFunc {
	return func(ctx context.Context, slot time.Time) error {
		var errs []error
		for _, tick := range ticks {
			if err := tick(ctx, slot); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// ExportOptions hold parameters for exporting observations.
type ExportOptions struct {
	From      liquidity.Date
	To        liquidity.Date
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Upload    bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From      liquidity.Date
	To        liquidity.Date
	ChunkDays int
	DryRun    bool
}

// IngestOptions configure a one-shot ingestion.
type IngestOptions struct {
	Days   int
	DryRun bool
}

// MigrateOptions configure the migrate command.
type MigrateOptions struct {
	StatusOnly bool
}
