package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_stores (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	store      TEXT NOT NULL REFERENCES cache_stores(name) ON DELETE CASCADE,
	req_key    TEXT NOT NULL,
	status     INTEGER NOT NULL,
	header     TEXT NOT NULL,
	url        TEXT NOT NULL,
	body       BLOB,
	stored_at  INTEGER NOT NULL,
	PRIMARY KEY (store, req_key)
);
`

// SQLiteProvider 把全部仓库存放在单个 SQLite 文件中，适合需要单文件备份的部署。
type SQLiteProvider struct {
	db *sql.DB

	mu   sync.Mutex
	last int64
}

type sqliteStore struct {
	provider *SQLiteProvider
	name     string
}

// NewSQLiteProvider 打开（必要时创建）dbPath 对应的数据库并初始化表结构。
func NewSQLiteProvider(ctx context.Context, dbPath string) (*SQLiteProvider, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接串行化所有读写，同时保证 :memory: 数据库在整个生命周期内可见。
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLiteProvider{db: db}, nil
}

// sqliteDSN 通过 DSN 参数开启外键，连接池重建连接后 ON DELETE CASCADE 依然生效。
func sqliteDSN(dbPath string) string {
	if dbPath != ":memory:" {
		dbPath = filepath.Clean(dbPath)
	}
	return dbPath + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
}

// nextSeq 返回单调递增的创建序号，保证同一纳秒内创建的仓库仍有确定顺序。
func (p *SQLiteProvider) nextSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= p.last {
		now = p.last + 1
	}
	p.last = now
	return now
}

// Close 释放底层数据库连接。
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, err
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cache_stores (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, p.nextSeq())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return &sqliteStore{provider: p, name: name}, nil
}

func (p *SQLiteProvider) Has(ctx context.Context, name string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM cache_stores WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *SQLiteProvider) Delete(ctx context.Context, name string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM cache_stores WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (p *SQLiteProvider) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM cache_stores ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *SQLiteProvider) Match(ctx context.Context, key string) (*Response, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT e.status, e.header, e.url, e.body, e.stored_at
FROM cache_entries e JOIN cache_stores s ON s.name = e.store
WHERE e.req_key = ?
ORDER BY s.created_at, s.name
LIMIT 1`, key)
	return scanResponse(row)
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Match(ctx context.Context, key string) (*Response, error) {
	row := s.provider.db.QueryRowContext(ctx,
		`SELECT status, header, url, body, stored_at FROM cache_entries WHERE store = ? AND req_key = ?`,
		s.name, key)
	return scanResponse(row)
}

func (s *sqliteStore) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = s.provider.db.ExecContext(ctx, `
INSERT INTO cache_entries (store, req_key, status, header, url, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(store, req_key) DO UPDATE SET
	status = excluded.status,
	header = excluded.header,
	url = excluded.url,
	body = excluded.body,
	stored_at = excluded.stored_at`,
		s.name, key, resp.Status, string(header), resp.URL, body, storedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", key, s.name, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.provider.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE store = ? AND req_key = ?`, s.name, key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.provider.db.QueryContext(ctx,
		`SELECT req_key FROM cache_entries WHERE store = ? ORDER BY req_key`, s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanResponse(row *sql.Row) (*Response, error) {
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
		URL:      url,
		Body:     body,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode cached header: %w", err)
	}
	return resp, nil
}
