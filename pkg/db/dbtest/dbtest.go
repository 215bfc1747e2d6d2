// Package dbtest 为仓储与服务测试提供基于 SQLite 临时文件的数据库
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/exchangecore/pkg/db"
)

// New 创建独立的 SQLite 数据库并迁移给定模型，测试结束时自动关闭
func New(t testing.TB, models ...any) *db.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	d, err := db.Init(db.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	if len(models) > 0 {
		require.NoError(t, d.AutoMigrate(models...))
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}
