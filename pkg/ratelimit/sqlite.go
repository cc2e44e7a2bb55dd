package ratelimit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/nao1215/streamgate/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCounter はSQLiteのテーブルで数える単一ノード用のカウンター。
type SQLiteCounter struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

// OpenSQLite はカウンター用のSQLiteデータベースを開く。
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	return db, nil
}

// NewSQLiteCounter はスキーマを適用してからカウンターを生成する。
func NewSQLiteCounter(ctx context.Context, db *sql.DB, window time.Duration) (*SQLiteCounter, error) {
	if err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteCounter{
		db:     db,
		window: window,
		now:    time.Now,
	}, nil
}

// Incr は現在のウィンドウの行をupsertして加算後の値を返す。
// 新しいウィンドウの最初の加算時に、同じキーの古いウィンドウを削除する。
func (c *SQLiteCounter) Incr(ctx context.Context, key string) (int64, error) {
	k := storageKey(key)
	windowStart := c.now().Truncate(c.window).Unix()

	var count int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_counters (key, window_start, count) VALUES (?, ?, 1)
		ON CONFLICT (key, window_start) DO UPDATE SET count = count + 1
		RETURNING count
	`, k, windowStart).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if count == 1 {
		if _, err := c.db.ExecContext(ctx,
			"DELETE FROM rate_limit_counters WHERE key = ? AND window_start < ?", k, windowStart); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return count, nil
}
