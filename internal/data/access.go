package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// accessRepo implements the access state repository on SQLite
type accessRepo struct {
	db *sql.DB
}

// NewAccessRepo opens (or creates) the access state database
func NewAccessRepo(dbPath string) (repo.AccessRepo, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: every write is a single statement, serialized here.
	db.SetMaxOpenConns(1)

	// WAL lets the CLI read while the bridge writes; busy_timeout absorbs
	// cross-process lock contention.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	// The CHECK keeps the owner table to a single row.
	schema := []string{`
		CREATE TABLE IF NOT EXISTS pairing_owner (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			user_id INTEGER NOT NULL,
			paired_at INTEGER NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS blocklist (
			user_id INTEGER PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			blocked_by INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	return &accessRepo{db: db}, nil
}

// GetOwner gets the paired owner
func (r *accessRepo) GetOwner(ctx context.Context) (*domain.Owner, error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, paired_at FROM pairing_owner WHERE id = 1`)

	var userID, pairedAt int64
	err := row.Scan(&userID, &pairedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query owner: %w", err)
	}
	return &domain.Owner{UserID: domain.UserID(userID), PairedAt: time.Unix(pairedAt, 0)}, nil
}

// ClaimOwner writes the owner only when the row does not exist yet
func (r *accessRepo) ClaimOwner(ctx context.Context, userID domain.UserID) (*domain.Owner, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pairing_owner (id, user_id, paired_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, int64(userID), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to claim owner: %w", err)
	}
	return r.GetOwner(ctx)
}

// IsBlocked checks block-list membership
func (r *accessRepo) IsBlocked(ctx context.Context, userID domain.UserID) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blocklist WHERE user_id = ?`, int64(userID)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query blocklist: %w", err)
	}
	return n > 0, nil
}

// Block adds a block-list entry
func (r *accessRepo) Block(ctx context.Context, entry *domain.BlockEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocklist (user_id, reason, blocked_by, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`, int64(entry.UserID), entry.Reason, int64(entry.BlockedBy), entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	return nil
}

// Unblock removes a block-list entry
func (r *accessRepo) Unblock(ctx context.Context, userID domain.UserID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blocklist WHERE user_id = ?`, int64(userID))
	if err != nil {
		return false, fmt.Errorf("failed to unblock user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListBlocked lists block-list entries
func (r *accessRepo) ListBlocked(ctx context.Context) ([]*domain.BlockEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, reason, blocked_by, created_at
		FROM blocklist
		ORDER BY created_at, user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklist: %w", err)
	}
	defer rows.Close()

	var entries []*domain.BlockEntry
	for rows.Next() {
		var userID, blockedBy, createdAt int64
		entry := &domain.BlockEntry{}
		if err := rows.Scan(&userID, &entry.Reason, &blockedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist: %w", err)
		}
		entry.UserID = domain.UserID(userID)
		entry.BlockedBy = domain.UserID(blockedBy)
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the database connection
func (r *accessRepo) Close() error {
	return r.db.Close()
}
