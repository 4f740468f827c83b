package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteFileName = "pwa-cache.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS versions (
    scope      TEXT NOT NULL,
    version    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (scope, version)
)`,
	`CREATE TABLE IF NOT EXISTS entries (
    scope     TEXT NOT NULL,
    version   TEXT NOT NULL,
    method    TEXT NOT NULL,
    path      TEXT NOT NULL,
    query     TEXT NOT NULL,
    status    INTEGER NOT NULL,
    header    TEXT NOT NULL,
    url       TEXT NOT NULL DEFAULT '',
    body      BLOB,
    stored_at INTEGER NOT NULL,
    PRIMARY KEY (scope, version, method, path, query)
)`,
	"CREATE INDEX IF NOT EXISTS entries_path_idx ON entries (scope, version, method, path, stored_at)",
	"PRAGMA journal_mode=WAL",
}

// sqliteStore 将所有 scope/version 存放在同一个数据库文件中。
// 写操作串行化，读操作依赖 WAL 与写并发。
type sqliteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

type sqliteBucket struct {
	store   *sqliteStore
	scope   string
	version string
}

func newSQLiteStore(basePath string) (*sqliteStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(basePath, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &sqliteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *sqliteStore) Open(ctx context.Context, scope, version string) (Bucket, error) {
	if err := validateNames(scope, version); err != nil {
		return nil, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO versions (scope, version, created_at) VALUES (?, ?, ?)",
		scope, version, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("register version: %w", err)
	}
	return &sqliteBucket{store: s, scope: scope, version: version}, nil
}

func (s *sqliteStore) Versions(ctx context.Context, scope string) ([]string, error) {
	if err := validateName(scope); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM versions WHERE scope = ? ORDER BY version", scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, scope, version string) (bool, error) {
	if err := validateNames(scope, version); err != nil {
		return false, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE scope = ? AND version = ?", scope, version)
	if err != nil {
		return false, err
	}
	existed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE scope = ? AND version = ?", scope, version); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return existed > 0, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (b *sqliteBucket) Scope() string   { return b.scope }
func (b *sqliteBucket) Version() string { return b.version }

func (b *sqliteBucket) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	b.store.writeMutex.Lock()
	defer b.store.writeMutex.Unlock()

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 版本可能已被激活流程删除，重新登记后下一次激活会再次清理。
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO versions (scope, version, created_at) VALUES (?, ?, ?)",
		b.scope, b.version, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("register version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (scope, version, method, path, query, status, header, url, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.scope, b.version, key.Method, key.Path, key.Query,
		resp.Status, string(header), resp.URL, resp.Body, storedAt.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBucket) Match(ctx context.Context, key Key, opts MatchOptions) (*Response, error) {
	var row *sql.Row
	if opts.IgnoreQuery {
		row = b.store.db.QueryRowContext(ctx,
			`SELECT status, header, url, body, stored_at FROM entries
			 WHERE scope = ? AND version = ? AND method = ? AND path = ?
			 ORDER BY stored_at DESC LIMIT 1`,
			b.scope, b.version, key.Method, key.Path)
	} else {
		row = b.store.db.QueryRowContext(ctx,
			`SELECT status, header, url, body, stored_at FROM entries
			 WHERE scope = ? AND version = ? AND method = ? AND path = ? AND query = ?`,
			b.scope, b.version, key.Method, key.Path, key.Query)
	}

	var (
		status   int
		header   string
		url      string
		body     []byte
		storedAt int64
	)
	if err := row.Scan(&status, &header, &url, &body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	resp := &Response{
		Status:   status,
		Header:   http.Header{},
		Body:     body,
		URL:      url,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return resp, nil
}
