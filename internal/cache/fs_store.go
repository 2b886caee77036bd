package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix   = ".body"
	metaSuffix   = ".meta"
	storeMarker  = ".store"
	tempPattern  = ".cache-*"
	markerFormat = 10
)

// NewStore 以 basePath 为根目录构建磁盘 Provider，整站复用一份实例。
func NewStore(basePath string) (Provider, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一条目的读写；每个仓库对应 basePath 下的一个目录：
//
//	<StoragePath>/<store>/.store          # 创建时间，决定 Match 遍历顺序
//	<StoragePath>/<store>/<sha256>.body   # 正文
//	<StoragePath>/<store>/<sha256>.meta   # 状态码/Header/URL 元数据（JSON）
type fileStore struct {
	basePath string

	mu        sync.Mutex
	locks     map[string]*entryLock
	lastStamp int64
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// diskStore 是 fileStore 中单个仓库目录的视图。
type diskStore struct {
	parent *fileStore
	name   string
	dir    string
}

type entryMeta struct {
	Key      string              `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	URL      string              `json:"url"`
	StoredAt time.Time           `json:"stored_at"`
}

func (s *fileStore) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(name, storeMarker)
	defer unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	marker := filepath.Join(dir, storeMarker)
	if _, err := os.Stat(marker); errors.Is(err, fs.ErrNotExist) {
		stamp := strconv.FormatInt(s.nextStamp(), markerFormat)
		if err := writeAtomic(dir, marker, strings.NewReader(stamp)); err != nil {
			return nil, err
		}
	}
	return &diskStore{parent: s, name: name, dir: dir}, nil
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(filepath.Join(dir, storeMarker))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, err := s.storeDir(name)
	if err != nil {
		return false, err
	}
	unlock := s.lockEntry(name, storeMarker)
	defer unlock()
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	type named struct {
		name    string
		created int64
	}
	var stores []named
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, entry.Name(), storeMarker))
		if err != nil {
			continue
		}
		created, _ := strconv.ParseInt(strings.TrimSpace(string(raw)), markerFormat, 64)
		stores = append(stores, named{name: entry.Name(), created: created})
	}
	sort.SliceStable(stores, func(i, j int) bool {
		if stores[i].created == stores[j].created {
			return stores[i].name < stores[j].name
		}
		return stores[i].created < stores[j].created
	})

	names := make([]string, len(stores))
	for i, store := range stores {
		names[i] = store.name
	}
	return names, nil
}

func (s *fileStore) Match(ctx context.Context, key string) (*Response, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		store := &diskStore{parent: s, name: name, dir: filepath.Join(s.basePath, name)}
		resp, err := store.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (d *diskStore) Name() string {
	return d.name
}

// Match 与 Put/Delete 共用条目锁，保证 .meta 与 .body 来自同一次写入。
func (d *diskStore) Match(ctx context.Context, key string) (*Response, error) {
	unlock := d.parent.lockEntry(d.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bodyPath, metaPath := d.paths(key)

	rawMeta, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}
	if meta.Key != key {
		return nil, ErrNotFound
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:   meta.Status,
		Header:   meta.Header,
		Body:     body,
		URL:      meta.URL,
		StoredAt: meta.StoredAt,
	}, nil
}

func (d *diskStore) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	unlock := d.parent.lockEntry(d.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}

	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(entryMeta{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		URL:      resp.URL,
		StoredAt: storedAt,
	})
	if err != nil {
		return err
	}

	bodyPath, metaPath := d.paths(key)
	if err := writeAtomic(d.dir, bodyPath, bytes.NewReader(resp.Body)); err != nil {
		return err
	}
	// 元数据最后落盘：读取端以 .meta 存在作为条目完整的标志。
	return writeAtomic(d.dir, metaPath, bytes.NewReader(meta))
}

func (d *diskStore) Delete(ctx context.Context, key string) (bool, error) {
	unlock := d.parent.lockEntry(d.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	bodyPath, metaPath := d.paths(key)
	err := os.Remove(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

func (d *diskStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(d.dir, entry.Name()))
		if err != nil {
			continue
		}
		var meta entryMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *diskStore) paths(key string) (string, string) {
	sum := sha256.Sum256([]byte(key))
	base := filepath.Join(d.dir, hex.EncodeToString(sum[:]))
	return base + bodySuffix, base + metaSuffix
}

func (s *fileStore) storeDir(name string) (string, error) {
	if err := validateStoreName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, name)
	if !strings.HasPrefix(dir, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return dir, nil
}

// nextStamp 返回单调递增的创建时间戳，避免同一纳秒创建的仓库顺序不确定。
func (s *fileStore) nextStamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

func (s *fileStore) lockEntry(store, key string) func() {
	lockKey := store + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// writeAtomic 先写入同目录临时文件再 rename，失败时清理临时文件。
func writeAtomic(dir, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = io.Copy(tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
