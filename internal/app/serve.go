package app

import (
	"context"
	"os/signal"
	"syscall"

	"fed-liquidity/internal/api"
	"fed-liquidity/internal/service"
)

// Serve migrates the schema and runs the HTTP read endpoint until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx, true)
	if err != nil {
		a.Logger.Error().Err(err).Msg("store unavailable, refusing to serve")
		return err
	}
	defer closeStore()

	router := api.SetupRouter(api.RouterDeps{
		Query:      service.NewQueryService(store, a.Config.Server.QueryTimeout, a.Logger),
		Repo:       a.newRepoService(store),
		Store:      store,
		Logger:     a.Logger,
		Production: a.Config.IsProduction(),
	})

	return api.NewServer(a.Config.Server, router, a.Logger).Run(ctx)
}
