// Package sqlite provides a durable repository.Store on SQLite
// (modernc.org/sqlite, no cgo).
//
// Every Commit runs in one transaction whose first statement is a
// version-checked UPDATE of the match row; a stale version aborts the
// transaction before any set or event is written.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/adapters/repository/sqlite/migrations"
	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/metrics"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const driver = "sqlite"

// Store is the SQLite-backed match store.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; concurrent commits queue on the pool.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateMatch implements repository.Store.
func (s *Store) CreateMatch(ctx context.Context, state model.MatchState) (model.MatchState, error) {
	defer observe("create_match", time.Now())
	if err := repository.CheckNew(state); err != nil {
		return model.MatchState{}, err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, r := state.Match, state.Rules
		_, err := tx.ExecContext(ctx, `
INSERT INTO matches (
	id, sport, category, home_id, home_name, away_id, away_name, status,
	sets_won_home, sets_won_away, winner,
	total_sets, points_per_set, points_last_set, min_difference, max_timeouts, max_substitutions, substitution_scope,
	version, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			m.ID, string(m.Sport), m.Category, m.Home.ID, m.Home.Name, m.Away.ID, m.Away.Name, string(m.Status),
			m.SetsWon.Home, m.SetsWon.Away, string(m.Winner),
			r.TotalSets, r.PointsPerSet, r.PointsLastSet, r.MinDifference, r.MaxTimeouts, r.MaxSubstitutions, string(r.SubstitutionScope),
			m.CreatedAt.UTC().UnixMilli(), m.UpdatedAt.UTC().UnixMilli(),
		)
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("%w: %s", repository.ErrMatchExists, m.ID)
			}
			return err
		}
		return upsertSets(ctx, tx, state.Sets)
	})
	if err != nil {
		return model.MatchState{}, classify("create_match", err)
	}
	return s.Load(ctx, state.Match.ID)
}

// Load implements repository.Store.
func (s *Store) Load(ctx context.Context, matchID string) (model.MatchState, error) {
	defer observe("load", time.Now())
	var st model.MatchState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if st, err = loadMatch(ctx, tx, matchID); err != nil {
			return err
		}
		if st.Sets, err = loadSets(ctx, tx, matchID); err != nil {
			return err
		}
		st.Events, err = queryEvents(ctx, tx, matchID, eventlog.Filter{})
		return err
	})
	if err != nil {
		return model.MatchState{}, classify("load", err)
	}
	return st, nil
}

// Commit implements repository.Store.
func (s *Store) Commit(ctx context.Context, c repository.Commit) (int64, error) {
	defer observe("commit", time.Now())
	next := c.ExpectedVersion + 1
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m := c.Match
		res, err := tx.ExecContext(ctx, `
UPDATE matches SET
	status = ?, sets_won_home = ?, sets_won_away = ?, winner = ?, category = ?,
	home_id = ?, home_name = ?, away_id = ?, away_name = ?, updated_at = ?, version = ?
WHERE id = ? AND version = ?`,
			string(m.Status), m.SetsWon.Home, m.SetsWon.Away, string(m.Winner), m.Category,
			m.Home.ID, m.Home.Name, m.Away.ID, m.Away.Name, m.UpdatedAt.UTC().UnixMilli(), next,
			c.MatchID, c.ExpectedVersion,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var current int64
			err := tx.QueryRowContext(ctx, `SELECT version FROM matches WHERE id = ?`, c.MatchID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("match %s: %w", c.MatchID, repository.ErrNotFound)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("match %s at version %d, expected %d: %w",
				c.MatchID, current, c.ExpectedVersion, repository.ErrConcurrencyConflict)
		}

		var stored int
		var lastSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sets WHERE match_id = ?`, c.MatchID).Scan(&stored); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE match_id = ?`, c.MatchID).Scan(&lastSeq); err != nil {
			return err
		}
		current := model.MatchState{Sets: make([]model.Set, stored)}
		if lastSeq > 0 {
			current.Events = []model.Event{{Seq: lastSeq}}
		}
		if err := repository.CheckCommit(current, c); err != nil {
			return err
		}

		if err := upsertSets(ctx, tx, c.Sets); err != nil {
			return err
		}
		for _, e := range c.Events {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO events (id, match_id, seq, set_number, kind, side, player, delta, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.MatchID, e.Seq, e.SetNumber, string(e.Kind), string(e.Side), e.Player, e.Delta,
				e.CreatedAt.UTC().UnixMilli(),
			); err != nil {
				if isConstraintError(err) {
					return fmt.Errorf("event seq %d of %s: %w", e.Seq, e.MatchID, repository.ErrConcurrencyConflict)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, classify("commit", err)
	}
	return next, nil
}

// ListEvents implements repository.Store.
func (s *Store) ListEvents(ctx context.Context, matchID string, f eventlog.Filter) ([]model.Event, error) {
	defer observe("list_events", time.Now())
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []model.Event
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadMatch(ctx, tx, matchID); err != nil {
			return err
		}
		var err error
		out, err = queryEvents(ctx, tx, matchID, f)
		return err
	})
	if err != nil {
		return nil, classify("list_events", err)
	}
	return out, nil
}

// ListMatches implements repository.Store.
func (s *Store) ListMatches(ctx context.Context, f repository.MatchFilter) ([]model.Match, error) {
	defer observe("list_matches", time.Now())
	q := `SELECT ` + matchColumns + ` FROM matches WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Sport != "" {
		q += ` AND sport = ?`
		args = append(args, string(f.Sport))
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("list_matches", err)
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		st, err := scanMatch(rows)
		if err != nil {
			return nil, classify("list_matches", err)
		}
		out = append(out, st.Match)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list_matches", err)
	}
	return out, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) (repository.Counts, error) {
	var c repository.Counts
	err := s.db.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM matches),
	(SELECT COUNT(*) FROM matches WHERE status != ?),
	(SELECT COUNT(*) FROM events)`, string(model.StatusFinished),
	).Scan(&c.Matches, &c.Active, &c.Events)
	if err != nil {
		return repository.Counts{}, classify("count", err)
	}
	return c, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return repository.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const matchColumns = `id, sport, category, home_id, home_name, away_id, away_name, status,
	sets_won_home, sets_won_away, winner,
	total_sets, points_per_set, points_last_set, min_difference, max_timeouts, max_substitutions, substitution_scope,
	version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (model.MatchState, error) {
	var (
		st                           model.MatchState
		sport, status, winner, scope string
		createdAt, updatedAt         int64
	)
	m, r := &st.Match, &st.Rules
	if err := row.Scan(
		&m.ID, &sport, &m.Category, &m.Home.ID, &m.Home.Name, &m.Away.ID, &m.Away.Name, &status,
		&m.SetsWon.Home, &m.SetsWon.Away, &winner,
		&r.TotalSets, &r.PointsPerSet, &r.PointsLastSet, &r.MinDifference, &r.MaxTimeouts, &r.MaxSubstitutions, &scope,
		&st.Version, &createdAt, &updatedAt,
	); err != nil {
		return model.MatchState{}, err
	}
	m.Sport, m.Status, m.Winner = model.Sport(sport), model.Status(status), model.Side(winner)
	r.Sport, r.SubstitutionScope = m.Sport, model.Scope(scope)
	m.CreatedAt, m.UpdatedAt = time.UnixMilli(createdAt).UTC(), time.UnixMilli(updatedAt).UTC()
	return st, nil
}

func loadMatch(ctx context.Context, tx *sql.Tx, matchID string) (model.MatchState, error) {
	st, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.MatchState{}, fmt.Errorf("match %s: %w", matchID, repository.ErrNotFound)
	}
	return st, err
}

func loadSets(ctx context.Context, tx *sql.Tx, matchID string) ([]model.Set, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT id, match_id, number, score_home, score_away, status, winner
FROM sets WHERE match_id = ? ORDER BY number`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Set
	for rows.Next() {
		var (
			set            model.Set
			status, winner string
		)
		if err := rows.Scan(&set.ID, &set.MatchID, &set.Number, &set.Score.Home, &set.Score.Away, &status, &winner); err != nil {
			return nil, err
		}
		set.Status, set.Winner = model.Status(status), model.Side(winner)
		out = append(out, set)
	}
	return out, rows.Err()
}

func upsertSets(ctx context.Context, tx *sql.Tx, sets []model.Set) error {
	for _, set := range sets {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sets (id, match_id, number, score_home, score_away, status, winner)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (match_id, number) DO UPDATE SET
	score_home = excluded.score_home,
	score_away = excluded.score_away,
	status = excluded.status,
	winner = excluded.winner`,
			set.ID, set.MatchID, set.Number, set.Score.Home, set.Score.Away, string(set.Status), string(set.Winner),
		); err != nil {
			return err
		}
	}
	return nil
}

func queryEvents(ctx context.Context, tx *sql.Tx, matchID string, f eventlog.Filter) ([]model.Event, error) {
	q := `
SELECT id, match_id, seq, set_number, kind, side, player, delta, created_at
FROM events WHERE match_id = ? AND seq > ?`
	args := []any{matchID, f.AfterSeq}
	if f.SetNumber > 0 {
		q += ` AND set_number = ?`
		args = append(args, f.SetNumber)
	}
	if f.Side != "" {
		q += ` AND side = ?`
		args = append(args, string(f.Side))
	}
	if len(f.Kinds) > 0 {
		q += ` AND kind IN (?` + strings.Repeat(`, ?`, len(f.Kinds)-1) + `)`
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	q += ` ORDER BY seq, created_at`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var (
			e          model.Event
			kind, side string
			createdAt  int64
		)
		if err := rows.Scan(&e.ID, &e.MatchID, &e.Seq, &e.SetNumber, &kind, &side, &e.Player, &e.Delta, &createdAt); err != nil {
			return nil, err
		}
		e.Kind, e.Side, e.CreatedAt = model.EventKind(kind), model.Side(side), time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// classify maps driver failures onto the repository error kinds. Domain
// kinds and context errors pass through unchanged; anything else is an
// unavailable store.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrConcurrencyConflict),
		errors.Is(err, repository.ErrMatchExists),
		errors.Is(err, repository.ErrInvalidCommit),
		errors.Is(err, repository.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		if errors.Is(err, repository.ErrConcurrencyConflict) {
			metrics.RecordStoreError(driver, op, "conflict")
		}
		return err
	case errors.Is(err, sql.ErrConnDone):
		metrics.RecordStoreError(driver, op, "closed")
		return fmt.Errorf("sqlite %s: %w: %w", op, repository.ErrClosed, err)
	case isBusyError(err):
		metrics.RecordStoreError(driver, op, "busy")
		return fmt.Errorf("sqlite %s: %w: %w", op, repository.ErrUnavailable, err)
	default:
		metrics.RecordStoreError(driver, op, "io")
		return fmt.Errorf("sqlite %s: %w: %w", op, repository.ErrUnavailable, err)
	}
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func isBusyError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(driver, op, float64(time.Since(start).Microseconds())/1000)
}
