package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTLLua はINCRとTTL設定を1回の呼び出しで行う。
// TTLの無いキーには必ずウィンドウ長のTTLを設定するため、
// 途中で失敗してTTLが付かなかったキーも次の加算で期限付きに戻る。
//
// KEYS[1] = カウンターのキー
// ARGV[1] = ウィンドウ長（ミリ秒）
var incrWithTTLLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounter はRedisのINCRで数える複数ノード共有のカウンター。
type RedisCounter struct {
	client redis.UniversalClient
	window time.Duration
}

// NewRedisCounter はRedisをバックエンドにしたカウンターを生成する。
func NewRedisCounter(client redis.UniversalClient, window time.Duration) *RedisCounter {
	return &RedisCounter{
		client: client,
		window: window,
	}
}

// Incr はカウンターを加算する。TTLはウィンドウの最初の加算でのみ設定され、延長はしない。
func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	count, err := incrWithTTLLua.Run(ctx, c.client, []string{storageKey(key)}, c.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return count, nil
}
