package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fed-liquidity/internal/liquidity"
)

// observationRow mirrors liquidity_observations. Monetary columns are scanned
// as text and parsed into decimals so no driver float rounding leaks through.
type observationRow struct {
	ID              int64          `db:"id"`
	Date            liquidity.Date `db:"date"`
	TotalAssets     string         `db:"total_assets"`
	ReverseRepo     string         `db:"reverse_repo"`
	TGA             string         `db:"tga"`
	ReserveBalances sql.NullString `db:"reserve_balances"`
	DiscountWindow  sql.NullString `db:"discount_window"`
}

func (r observationRow) toObservation() (liquidity.Observation, error) {
	total, err := decimal.NewFromString(r.TotalAssets)
	if err != nil {
		return liquidity.Observation{}, fmt.Errorf("parse total_assets for %s: %w", r.Date, err)
	}
	rrp, err := decimal.NewFromString(r.ReverseRepo)
	if err != nil {
		return liquidity.Observation{}, fmt.Errorf("parse reverse_repo for %s: %w", r.Date, err)
	}
	tga, err := decimal.NewFromString(r.TGA)
	if err != nil {
		return liquidity.Observation{}, fmt.Errorf("parse tga for %s: %w", r.Date, err)
	}
	reserves, err := parseNullDecimal(r.ReserveBalances)
	if err != nil {
		return liquidity.Observation{}, fmt.Errorf("parse reserve_balances for %s: %w", r.Date, err)
	}
	discount, err := parseNullDecimal(r.DiscountWindow)
	if err != nil {
		return liquidity.Observation{}, fmt.Errorf("parse discount_window for %s: %w", r.Date, err)
	}

	obs := liquidity.Observation{
		ID:              r.ID,
		Date:            r.Date,
		TotalAssets:     total,
		ReverseRepo:     rrp,
		TGA:             tga,
		ReserveBalances: reserves,
		DiscountWindow:  discount,
	}
	return obs.WithNetLiquidity(), nil
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// IngestRun audits one ingestion transaction.
type IngestRun struct {
	ID          string         `db:"id"`
	Source      string         `db:"source"`
	WindowStart liquidity.Date `db:"window_start"`
	WindowEnd   liquidity.Date `db:"window_end"`
	Inserted    int            `db:"inserted"`
	Updated     int            `db:"updated"`
	Skipped     int            `db:"skipped"`
	StartedAt   time.Time      `db:"started_at"`
	FinishedAt  time.Time      `db:"finished_at"`
}

// AlertRecord captures an emitted net liquidity alert for de-duplication/auditing.
type AlertRecord struct {
	ID              int64
	ObservationDate liquidity.Date
	NetLiquidity    decimal.Decimal
	ChangePct       decimal.Decimal
	ThresholdPct    decimal.Decimal
	Direction       string
	Channels        []string
	CreatedAt       time.Time
}

type alertRow struct {
	ID              int64          `db:"id"`
	ObservationDate liquidity.Date `db:"observation_date"`
	NetLiquidity    string         `db:"net_liquidity"`
	ChangePct       string         `db:"change_pct"`
	ThresholdPct    string         `db:"threshold_pct"`
	Direction       string         `db:"direction"`
	Channels        string         `db:"channels"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r alertRow) toRecord() (AlertRecord, error) {
	rec := AlertRecord{
		ID:              r.ID,
		ObservationDate: r.ObservationDate,
		Direction:       r.Direction,
		CreatedAt:       r.CreatedAt,
	}
	if r.Channels != "" {
		rec.Channels = strings.Split(r.Channels, ",")
	}

	var err error
	if rec.NetLiquidity, err = decimal.NewFromString(r.NetLiquidity); err != nil {
		return AlertRecord{}, fmt.Errorf("parse net liquidity: %w", err)
	}
	if rec.ChangePct, err = decimal.NewFromString(r.ChangePct); err != nil {
		return AlertRecord{}, fmt.Errorf("parse change pct: %w", err)
	}
	if rec.ThresholdPct, err = decimal.NewFromString(r.ThresholdPct); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	return rec, nil
}

// UpsertResult counts the effect of an upsert batch.
type UpsertResult struct {
	Inserted int
	Updated  int
}
