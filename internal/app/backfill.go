package app

import (
	"context"
	"errors"
	"fmt"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
)

// Backfill ingests a historical window chunk by chunk.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	chunkDays := opts.ChunkDays
	if chunkDays <= 0 {
		chunkDays = a.Config.Ingest.ChunkDays
	}
	if chunkDays <= 0 {
		return errors.New("ingest.chunk_days 配置不合法")
	}

	from, to := opts.From, opts.To
	if to.IsZero() {
		to = a.today()
	}
	if from.IsZero() || from.After(to) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx, true)
		if err != nil {
			return err
		}
		defer closeStore()
	}

	ingestor := a.newIngestor(store, nil)
	res, err := ingestor.Backfill(ctx, from, to, chunkDays, opts.DryRun)
	fmt.Fprintf(a.Out, "backfill %s: %d chunks, %d failed, %d inserted, %d updated, %d skipped\n",
		liquidity.Range{Start: from, End: to}, res.Chunks, res.Failed, res.Inserted, res.Updated, res.Skipped)
	if errors.Is(err, service.ErrBackfillIncomplete) {
		return fmt.Errorf("部分 chunk 回填失败，请检查日志: %w", err)
	}
	return err
}
