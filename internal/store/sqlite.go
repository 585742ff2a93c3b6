package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ykvlv/investmate/internal/domain"
)

const alertColumns = `id, user_id, club_id, type, content, scheduled_at,
	repeat, status, ai_context, created_at, last_fired_at`

// SQLiteRepo implements Repo using an embedded SQLite database.
// The default DSN is ":memory:", so nothing outlives the process.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens the SQLite database at dsn, applies PRAGMAs and migrations,
// and returns a repository.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteRepo, error) {
	if !isMemoryDSN(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite is single-writer, and an in-memory database
	// lives exactly as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// InsertAlert stores a new alert.
func (r *SQLiteRepo) InsertAlert(ctx context.Context, a *domain.Alert) error {
	if a == nil {
		return errors.New("nil alert")
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ClubID, string(a.Type), a.Content, a.ScheduledAt.UTC().UnixNano(),
		string(a.Repeat), string(a.Status), boolToInt(a.AIContext), created.UTC().UnixNano(),
		toNullInt64(a.LastFiredAt),
	)
	return err
}

// GetAlert returns an alert by id or ErrNotFound.
func (r *SQLiteRepo) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListDue returns up to limit PENDING alerts with scheduled_at <= now,
// oldest first; ties are broken by id so the order is stable.
func (r *SQLiteRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE status = ?
		  AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?`,
		string(domain.StatusPending), now.UTC().UnixNano(), limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListByUser returns every alert owned by userID, including SENT and CANCELLED ones.
func (r *SQLiteRepo) ListByUser(ctx context.Context, userID string) ([]domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE user_id = ?
		ORDER BY scheduled_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Claim writes status, scheduled_at and last_fired_at from a, guarded by the
// row still being PENDING at observedAt.
func (r *SQLiteRepo) Claim(ctx context.Context, a *domain.Alert, observedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = ?, scheduled_at = ?, last_fired_at = ?
		WHERE id = ? AND status = ? AND scheduled_at = ?`,
		string(a.Status), a.ScheduledAt.UTC().UnixNano(), toNullInt64(a.LastFiredAt),
		a.ID, string(domain.StatusPending), observedAt.UTC().UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Cancel marks a PENDING alert CANCELLED.
func (r *SQLiteRepo) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = ?
		WHERE id = ? AND status = ?`,
		string(domain.StatusCancelled), id, string(domain.StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (domain.Alert, error) {
	var (
		a           domain.Alert
		typ, repeat string
		status      string
		scheduledAt int64
		createdAt   int64
		aiContext   int
		lastNS      sql.NullInt64
	)
	if err := s.Scan(
		&a.ID, &a.UserID, &a.ClubID, &typ, &a.Content, &scheduledAt,
		&repeat, &status, &aiContext, &createdAt, &lastNS,
	); err != nil {
		return domain.Alert{}, err
	}
	a.Type = domain.AlertType(typ)
	a.Repeat = domain.Repeat(repeat)
	a.Status = domain.AlertStatus(status)
	a.ScheduledAt = fromNanos(scheduledAt)
	a.CreatedAt = fromNanos(createdAt)
	a.AIContext = aiContext != 0
	a.LastFiredAt = fromNullInt64(lastNS)
	return a, nil
}

func collect(rows *sql.Rows) ([]domain.Alert, error) {
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
