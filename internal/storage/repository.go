package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"fed-liquidity/internal/liquidity"
)

const (
	observationColumns = `id, date, total_assets, reverse_repo, tga, reserve_balances, discount_window`

	observationExistsSQL = `SELECT COUNT(1) FROM liquidity_observations WHERE date = ?;`

	upsertObservationSQL = `INSERT INTO liquidity_observations (
        date,
        total_assets,
        reverse_repo,
        tga,
        reserve_balances,
        discount_window
    ) VALUES (
        ?,?,?,?,?,?
    )
    ON CONFLICT (date) DO UPDATE
    SET
        total_assets     = excluded.total_assets,
        reverse_repo     = excluded.reverse_repo,
        tga              = excluded.tga,
        reserve_balances = excluded.reserve_balances,
        discount_window  = excluded.discount_window,
        updated_at       = CURRENT_TIMESTAMP;`

	insertIngestRunSQL = `INSERT INTO ingest_runs (
        id,
        source,
        window_start,
        window_end,
        inserted,
        updated,
        skipped,
        started_at,
        finished_at
    ) VALUES (
        ?,?,?,?,?,?,?,?,?
    );`

	listRecentObservationsSQL = `SELECT ` + observationColumns + `
    FROM liquidity_observations
    ORDER BY date DESC
    LIMIT ?;`

	countObservationsSQL = `SELECT COUNT(*) FROM liquidity_observations;`

	insertAlertSQL = `INSERT INTO liquidity_alerts (
        observation_date,
        net_liquidity,
        change_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        ?,?,?,?,?,?
    )
    ON CONFLICT (observation_date) DO NOTHING
    RETURNING id, observation_date, net_liquidity, change_pct, threshold_pct, direction, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        observation_date,
        net_liquidity,
        change_pct,
        threshold_pct,
        direction,
        channels,
        created_at
    FROM liquidity_alerts
    ORDER BY observation_date DESC
    LIMIT ?;`

	listIngestRunsSQL = `SELECT
        id,
        source,
        window_start,
        window_end,
        inserted,
        updated,
        skipped,
        started_at,
        finished_at
    FROM ingest_runs
    ORDER BY started_at DESC
    LIMIT ?;`
)

// ObservationReader is the read side consumed by the query service.
type ObservationReader interface {
	ListObservations(ctx context.Context, r liquidity.Range) ([]liquidity.Observation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]liquidity.Observation, error)
}

// ObservationWriter persists ingested observations.
type ObservationWriter interface {
	UpsertObservations(ctx context.Context, observations []liquidity.Observation, run *IngestRun) (UpsertResult, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// Store aggregates access to observations, ingest runs and alerts.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewStore wires an open database handle into a Store.
func NewStore(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for the migration runner.
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Dialect reports the SQL flavour of the store.
func (s *Store) Dialect() Dialect {
	if s == nil {
		return ""
	}
	return s.dialect
}

func (s *Store) getDB() (*sqlx.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Ping verifies the database answers.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// UpsertObservations writes observations keyed by date in a single transaction.
// When run is non-nil its audit row is recorded in the same transaction with
// the inserted and updated counts filled in.
func (s *Store) UpsertObservations(ctx context.Context, observations []liquidity.Observation, run *IngestRun) (UpsertResult, error) {
	db, err := s.getDB()
	if err != nil {
		return UpsertResult{}, err
	}
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			return UpsertResult{}, err
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return UpsertResult{}, unavailable("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	existsQuery := tx.Rebind(observationExistsSQL)
	upsertQuery := tx.Rebind(upsertObservationSQL)

	var result UpsertResult
	for _, obs := range observations {
		var existing int
		if err := tx.GetContext(ctx, &existing, existsQuery, obs.Date); err != nil {
			return UpsertResult{}, unavailable("check observation "+obs.Date.String(), err)
		}

		if _, err := tx.ExecContext(ctx, upsertQuery,
			obs.Date,
			obs.TotalAssets.String(),
			obs.ReverseRepo.String(),
			obs.TGA.String(),
			nullDecimalArg(obs.ReserveBalances),
			nullDecimalArg(obs.DiscountWindow),
		); err != nil {
			return UpsertResult{}, unavailable("upsert observation "+obs.Date.String(), err)
		}

		if existing > 0 {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	if run != nil {
		run.Inserted = result.Inserted
		run.Updated = result.Updated
		if run.FinishedAt.IsZero() {
			run.FinishedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertIngestRunSQL),
			run.ID,
			run.Source,
			run.WindowStart,
			run.WindowEnd,
			run.Inserted,
			run.Updated,
			run.Skipped,
			run.StartedAt.UTC(),
			run.FinishedAt.UTC(),
		); err != nil {
			return UpsertResult{}, unavailable("record ingest run", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, unavailable("commit upsert", err)
	}
	return result, nil
}

// buildRangeQuery selects observations inside r.
func buildRangeQuery(r liquidity.Range) (string, []any) {
	return rangeQuery("liquidity_observations", observationColumns, r)
}

// rangeQuery adds one predicate per present bound. Dates compare as
// YYYY-MM-DD values, which order the same lexically and chronologically.
func rangeQuery(table, columns string, r liquidity.Range) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if !r.Start.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, r.Start)
	}
	if !r.End.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, r.End)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY date ASC;")
	return b.String(), args
}

// ListObservations returns observations inside r in ascending date order.
func (s *Store) ListObservations(ctx context.Context, r liquidity.Range) ([]liquidity.Observation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query, args := buildRangeQuery(r)
	var rows []observationRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, unavailable("list observations", err)
	}
	return toObservations(rows)
}

// ListRecentObservations lists the most recent observations ordered by descending date.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]liquidity.Observation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []liquidity.Observation{}, nil
	}

	var rows []observationRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(listRecentObservationsSQL), limit); err != nil {
		return nil, unavailable("list recent observations", err)
	}
	return toObservations(rows)
}

func toObservations(rows []observationRow) ([]liquidity.Observation, error) {
	out := make([]liquidity.Observation, 0, len(rows))
	for _, row := range rows {
		obs, err := row.toObservation()
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.GetContext(ctx, &count, countObservationsSQL); err != nil {
		return 0, unavailable("count observations", err)
	}
	return count, nil
}

// InsertAlert records an alert. The boolean is false when an alert for the
// same observation date already exists.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRecord{}, false, err
	}

	var row alertRow
	err = db.GetContext(ctx, &row, db.Rebind(insertAlertSQL),
		alert.ObservationDate,
		alert.NetLiquidity.String(),
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		strings.Join(alert.Channels, ","),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertRecord{}, false, nil
	}
	if err != nil {
		return AlertRecord{}, false, unavailable("insert alert", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return AlertRecord{}, false, err
	}
	return rec, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var rows []alertRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(listRecentAlertsSQL), limit); err != nil {
		return nil, unavailable("list recent alerts", err)
	}

	alerts := make([]AlertRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	return alerts, nil
}

// ListIngestRuns lists the most recent ingest runs.
func (s *Store) ListIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	runs := make([]IngestRun, 0)
	if err := db.SelectContext(ctx, &runs, db.Rebind(listIngestRunsSQL), limit); err != nil {
		return nil, unavailable("list ingest runs", err)
	}
	return runs, nil
}
