package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO quote_snapshots (
        bucket_ts,
        mid_used,
        sigma_bps,
        conf_bps,
        divergence_bps,
        spread_bps,
        source_reason,
        venue_payload,
        block_number,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        mid_used       = EXCLUDED.mid_used,
        sigma_bps      = EXCLUDED.sigma_bps,
        conf_bps       = EXCLUDED.conf_bps,
        divergence_bps = EXCLUDED.divergence_bps,
        spread_bps     = EXCLUDED.spread_bps,
        source_reason  = EXCLUDED.source_reason,
        venue_payload  = EXCLUDED.venue_payload,
        block_number   = EXCLUDED.block_number,
        status         = EXCLUDED.status,
        error          = EXCLUDED.error;`

	listSnapshotsBetweenSQL = `SELECT
        bucket_ts,
        mid_used,
        sigma_bps,
        conf_bps,
        divergence_bps,
        spread_bps,
        source_reason,
        venue_payload,
        block_number,
        status,
        error,
        created_at
    FROM quote_snapshots
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSnapshotsSQL = `SELECT
        bucket_ts,
        mid_used,
        sigma_bps,
        conf_bps,
        divergence_bps,
        spread_bps,
        source_reason,
        venue_payload,
        block_number,
        status,
        error,
        created_at
    FROM quote_snapshots
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	markSnapshotErroredSQL = `UPDATE quote_snapshots
    SET status = 'errored', error = $2
    WHERE bucket_ts = $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM quote_snapshots;`

	insertRecenterEventSQL = `INSERT INTO recenter_events (
        event_ts,
        mid,
        new_target,
        deviation_bps,
        manual
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, event_ts, mid, new_target, deviation_bps, manual, created_at;`

	listRecentRecenterEventsSQL = `SELECT
        id,
        event_ts,
        mid,
        new_target,
        deviation_bps,
        manual,
        created_at
    FROM recenter_events
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteRecenterEventsBeforeSQL = `DELETE FROM recenter_events WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, rec SnapshotRecord) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
	MarkSnapshotErrored(ctx context.Context, bucket time.Time, errMsg string) error
	CountSnapshots(ctx context.Context) (int64, error)
}

// RecenterEventStore defines operations for recenter auditing.
type RecenterEventStore interface {
	InsertRecenterEvent(ctx context.Context, event RecenterEvent) (RecenterEvent, error)
	ListRecentRecenterEvents(ctx context.Context, limit int) ([]RecenterEvent, error)
	DeleteRecenterEventsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots and recenter events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or updates a snapshot record.
func (s *Store) UpsertSnapshot(ctx context.Context, rec SnapshotRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var block interface{}
	if rec.BlockNumber != nil {
		block = *rec.BlockNumber
	}

	var errMsg interface{}
	if rec.Error != nil {
		errMsg = *rec.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		rec.Bucket,
		rec.MidUsed.String(),
		rec.SigmaBps.String(),
		rec.ConfBps.String(),
		rec.DivergenceBps.String(),
		rec.SpreadBps.String(),
		rec.SourceReason,
		[]byte(rec.VenuePayload),
		block,
		rec.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending bucket.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// MarkSnapshotErrored marks a snapshot as errored.
func (s *Store) MarkSnapshotErrored(ctx context.Context, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markSnapshotErroredSQL, bucket, errMsg)
	if execErr != nil {
		return fmt.Errorf("mark snapshot errored: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// InsertRecenterEvent persists a committed retarget.
func (s *Store) InsertRecenterEvent(ctx context.Context, event RecenterEvent) (RecenterEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return RecenterEvent{}, err
	}

	row := pool.QueryRow(ctx, insertRecenterEventSQL,
		event.At,
		event.Mid.String(),
		event.NewTarget.String(),
		event.DeviationBps.String(),
		event.Manual,
	)

	rec, scanErr := scanRecenterEvent(row)
	if scanErr != nil {
		return RecenterEvent{}, fmt.Errorf("insert recenter event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentRecenterEvents lists most recent retargets.
func (s *Store) ListRecentRecenterEvents(ctx context.Context, limit int) ([]RecenterEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecenterEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent recenter events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]RecenterEvent, 0, limit)
	for rows.Next() {
		rec, scanErr := scanRecenterEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteRecenterEventsBefore deletes historical retarget records.
func (s *Store) DeleteRecenterEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRecenterEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete recenter events before: %w", execErr)
	}
	return nil
}

func scanSnapshot(rows pgx.Row) (SnapshotRecord, error) {
	var (
		bucket        time.Time
		midStr        string
		sigmaStr      string
		confStr       string
		divergenceStr string
		spreadStr     string
		sourceReason  string
		venuePayload  json.RawMessage
		block         sql.NullInt64
		status        string
		errMsg        sql.NullString
		createdAt     time.Time
	)

	if err := rows.Scan(
		&bucket,
		&midStr,
		&sigmaStr,
		&confStr,
		&divergenceStr,
		&spreadStr,
		&sourceReason,
		&venuePayload,
		&block,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	mid, err := decimal.NewFromString(midStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse mid: %w", err)
	}
	sigma, err := decimal.NewFromString(sigmaStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse sigma bps: %w", err)
	}
	conf, err := decimal.NewFromString(confStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse conf bps: %w", err)
	}
	divergence, err := decimal.NewFromString(divergenceStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse divergence bps: %w", err)
	}
	spread, err := decimal.NewFromString(spreadStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse spread bps: %w", err)
	}

	rec := SnapshotRecord{
		Bucket:        bucket,
		MidUsed:       mid,
		SigmaBps:      sigma,
		ConfBps:       conf,
		DivergenceBps: divergence,
		SpreadBps:     spread,
		SourceReason:  sourceReason,
		VenuePayload:  venuePayload,
		Status:        status,
		CreatedAt:     createdAt,
	}

	if block.Valid {
		value := block.Int64
		rec.BlockNumber = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}

	return rec, nil
}

func scanRecenterEvent(row pgx.Row) (RecenterEvent, error) {
	var (
		rec          RecenterEvent
		midStr       string
		targetStr    string
		deviationStr string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.At,
		&midStr,
		&targetStr,
		&deviationStr,
		&rec.Manual,
		&rec.CreatedAt,
	); err != nil {
		return RecenterEvent{}, err
	}

	var convErr error
	rec.Mid, convErr = decimal.NewFromString(midStr)
	if convErr != nil {
		return RecenterEvent{}, fmt.Errorf("parse mid: %w", convErr)
	}
	rec.NewTarget, convErr = decimal.NewFromString(targetStr)
	if convErr != nil {
		return RecenterEvent{}, fmt.Errorf("parse new target: %w", convErr)
	}
	rec.DeviationBps, convErr = decimal.NewFromString(deviationStr)
	if convErr != nil {
		return RecenterEvent{}, fmt.Errorf("parse deviation bps: %w", convErr)
	}

	return rec, nil
}
