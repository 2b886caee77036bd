package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// 支持的存储驱动。
const (
	DriverDisk   = "disk"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// sqliteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const sqliteFileName = "cache.db"

// OpenProvider 根据驱动名称构建 Provider，返回的 closer 需在进程退出前调用。
func OpenProvider(ctx context.Context, driver, storagePath string) (Provider, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverDisk:
		provider, err := NewStore(storagePath)
		if err != nil {
			return nil, nil, err
		}
		return provider, noop, nil
	case DriverSQLite:
		provider, err := NewSQLiteProvider(ctx, filepath.Join(storagePath, sqliteFileName))
		if err != nil {
			return nil, nil, err
		}
		return provider, provider.Close, nil
	case DriverMemory:
		return NewMemoryProvider(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
