package storage

import (
	"context"
	"database/sql"
	"fmt"

	"fed-liquidity/internal/liquidity"
)

const (
	repoRateColumns = `date, sofr, effr, srf_usage, onrrp, is_quarter_end, is_month_end`

	repoRateExistsSQL = `SELECT COUNT(1) FROM repo_rates WHERE date = ?;`

	upsertRepoRateSQL = `INSERT INTO repo_rates (
        date,
        sofr,
        effr,
        srf_usage,
        onrrp,
        is_quarter_end,
        is_month_end
    ) VALUES (
        ?,?,?,?,?,?,?
    )
    ON CONFLICT (date) DO UPDATE
    SET
        sofr           = excluded.sofr,
        effr           = excluded.effr,
        srf_usage      = excluded.srf_usage,
        onrrp          = excluded.onrrp,
        is_quarter_end = excluded.is_quarter_end,
        is_month_end   = excluded.is_month_end,
        updated_at     = CURRENT_TIMESTAMP;`
)

// RepoRateStore persists and reads daily repo-market rows.
type RepoRateStore interface {
	UpsertRepoRates(ctx context.Context, rates []liquidity.RepoRate) (UpsertResult, error)
	ListRepoRates(ctx context.Context, r liquidity.Range) ([]liquidity.RepoRate, error)
}

type repoRateRow struct {
	Date         liquidity.Date `db:"date"`
	SOFR         sql.NullString `db:"sofr"`
	EFFR         sql.NullString `db:"effr"`
	SRFUsage     sql.NullString `db:"srf_usage"`
	ReverseRepo  sql.NullString `db:"onrrp"`
	IsQuarterEnd bool           `db:"is_quarter_end"`
	IsMonthEnd   bool           `db:"is_month_end"`
}

func (r repoRateRow) toRepoRate() (liquidity.RepoRate, error) {
	rate := liquidity.RepoRate{
		Date:         r.Date,
		IsQuarterEnd: r.IsQuarterEnd,
		IsMonthEnd:   r.IsMonthEnd,
	}
	var err error
	if rate.SOFR, err = parseNullDecimal(r.SOFR); err != nil {
		return liquidity.RepoRate{}, fmt.Errorf("parse sofr for %s: %w", r.Date, err)
	}
	if rate.EFFR, err = parseNullDecimal(r.EFFR); err != nil {
		return liquidity.RepoRate{}, fmt.Errorf("parse effr for %s: %w", r.Date, err)
	}
	if rate.SRFUsage, err = parseNullDecimal(r.SRFUsage); err != nil {
		return liquidity.RepoRate{}, fmt.Errorf("parse srf_usage for %s: %w", r.Date, err)
	}
	if rate.ReverseRepo, err = parseNullDecimal(r.ReverseRepo); err != nil {
		return liquidity.RepoRate{}, fmt.Errorf("parse onrrp for %s: %w", r.Date, err)
	}
	return rate, nil
}

// UpsertRepoRates writes repo-market rows keyed by date in one transaction.
// Calendar flags are recomputed from each date before writing.
func (s *Store) UpsertRepoRates(ctx context.Context, rates []liquidity.RepoRate) (UpsertResult, error) {
	db, err := s.getDB()
	if err != nil {
		return UpsertResult{}, err
	}
	for _, rate := range rates {
		if err := rate.Validate(); err != nil {
			return UpsertResult{}, err
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return UpsertResult{}, unavailable("begin repo rate upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	existsQuery := tx.Rebind(repoRateExistsSQL)
	upsertQuery := tx.Rebind(upsertRepoRateSQL)

	var result UpsertResult
	for _, rate := range rates {
		rate = rate.WithCalendarFlags()

		var existing int
		if err := tx.GetContext(ctx, &existing, existsQuery, rate.Date); err != nil {
			return UpsertResult{}, unavailable("check repo rate "+rate.Date.String(), err)
		}
		if _, err := tx.ExecContext(ctx, upsertQuery,
			rate.Date,
			nullDecimalArg(rate.SOFR),
			nullDecimalArg(rate.EFFR),
			nullDecimalArg(rate.SRFUsage),
			nullDecimalArg(rate.ReverseRepo),
			rate.IsQuarterEnd,
			rate.IsMonthEnd,
		); err != nil {
			return UpsertResult{}, unavailable("upsert repo rate "+rate.Date.String(), err)
		}

		if existing > 0 {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, unavailable("commit repo rate upsert", err)
	}
	return result, nil
}

// ListRepoRates returns repo-market rows inside r in ascending date order.
func (s *Store) ListRepoRates(ctx context.Context, r liquidity.Range) ([]liquidity.RepoRate, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query, args := rangeQuery("repo_rates", repoRateColumns, r)
	var rows []repoRateRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, unavailable("list repo rates", err)
	}

	out := make([]liquidity.RepoRate, 0, len(rows))
	for _, row := range rows {
		rate, err := row.toRepoRate()
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, nil
}

var _ RepoRateStore = (*Store)(nil)
