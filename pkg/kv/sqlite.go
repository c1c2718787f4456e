// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/kairos-memory/pkg/core"
	"github.com/jllopis/kairos-memory/pkg/errors"

	_ "modernc.org/sqlite"
)

const jsonDataTable = "json_data"

const recordColumns = "key, id, value, version, expire_at, created_at, updated_at"

// SQLiteStore keeps records in a local SQLite database. Versions are
// integer counters rendered as strings.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to open sqlite database", err).
			WithContext("path", path)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create sqlite schema", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func ensureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			value TEXT NOT NULL,
			version INTEGER NOT NULL,
			expire_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`, jsonDataTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		value     string
		version   int64
		expireAt  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&r.Key, &r.ID, &value, &version, &expireAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Value = json.RawMessage(value)
	r.Version = Version(strconv.FormatInt(version, 10))
	if expireAt.Valid {
		t := time.UnixMilli(expireAt.Int64).UTC()
		r.ExpireAt = &t
	}
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &r, nil
}

func queryFailed(op string, err error) error {
	return errors.New(errors.CodeInternal, "sqlite "+op+" failed", err)
}

// escapeLike makes prefix literal inside a LIKE pattern using '\' as escape.
func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE key = ?", recordColumns, jsonDataTable), key)
	r, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryFailed("get", err)
	}
	return r, nil
}

// GetLike implements Store. Records are ordered by key.
func (s *SQLiteStore) GetLike(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE key LIKE ? ESCAPE '\' ORDER BY key`, recordColumns, jsonDataTable),
		escapeLike(prefix))
	if err != nil {
		return nil, queryFailed("get like", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, queryFailed("get like", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("get like", err)
	}
	return out, nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) upsert(ctx context.Context, q execer, key string, value json.RawMessage) (*Record, error) {
	now := s.now().UnixMilli()
	row := q.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %[1]s (key, id, value, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = %[1]s.version + 1,
			updated_at = excluded.updated_at
		RETURNING %[2]s`, jsonDataTable, recordColumns),
		key, uuid.NewString(), string(normalize(value)), now, now)
	return scanRecord(row)
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value json.RawMessage) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	r, err := s.upsert(ctx, s.db, key, value)
	if err != nil {
		return nil, queryFailed("set", err)
	}
	return r, nil
}

// SetIfVersion implements Store with a single conditional statement.
func (s *SQLiteStore) SetIfVersion(ctx context.Context, key string, value json.RawMessage, version Version) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	now := s.now().UnixMilli()
	raw := string(normalize(value))

	var row *sql.Row
	if version == "" {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %s (key, id, value, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(key) DO NOTHING
			RETURNING %s`, jsonDataTable, recordColumns),
			key, uuid.NewString(), raw, now, now)
	} else {
		expected, err := strconv.ParseInt(string(version), 10, 64)
		if err != nil {
			return nil, errors.Wrap(ErrVersionConflict, err).WithContext("key", key)
		}
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(`UPDATE %s
			SET value = ?, version = version + 1, updated_at = ?
			WHERE key = ? AND version = ?
			RETURNING %s`, jsonDataTable, recordColumns),
			raw, now, key, expected)
	}

	r, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrVersionConflict, nil).
			WithContext("key", key).
			WithContext("version", string(version))
	}
	if err != nil {
		return nil, queryFailed("conditional set", err)
	}
	return r, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", jsonDataTable), key); err != nil {
		return queryFailed("delete", err)
	}
	return nil
}

// DeleteLike implements Store.
func (s *SQLiteStore) DeleteLike(ctx context.Context, prefix string) error {
	if prefix == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key LIKE ? ESCAPE '\'`, jsonDataTable), escapeLike(prefix))
	if err != nil {
		return queryFailed("delete like", err)
	}
	return nil
}

// CreateMany implements Store inside one transaction.
func (s *SQLiteStore) CreateMany(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queryFailed("begin", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := s.upsert(ctx, tx, e.Key, e.Value); err != nil {
			return queryFailed("create many", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return queryFailed("commit", err)
	}
	return nil
}

// HealthChecker pings the database.
func (s *SQLiteStore) HealthChecker() core.HealthChecker {
	return core.HealthCheckerFunc(func(ctx context.Context) core.HealthResult {
		if err := s.db.PingContext(ctx); err != nil {
			return core.HealthResult{Status: core.HealthUnhealthy, Error: err}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: "sqlite ok"}
	})
}
