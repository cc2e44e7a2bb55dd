package ratelimit

import (
	"context"
	"errors"
)

//go:generate mockgen -source=counter.go -destination=../../internal/mocks/mock_counter.go -package=mocks

// ErrUnavailable はカウンターのバックエンドに到達できないことを表す。
var ErrUnavailable = errors.New("レートリミットのバックエンドが利用できません")

// Counter は固定ウィンドウ内のリクエスト数を加算して返す。
type Counter interface {
	// Incr はkeyのカウンターを1加算し、現在のウィンドウでの加算後の値を返す。
	Incr(ctx context.Context, key string) (int64, error)
}

// keyPrefix はバックエンドに保存するキーの接頭辞。
const keyPrefix = "streamgate:ratelimit:"

// storageKey はバックエンドに保存するキーを組み立てる。
func storageKey(key string) string {
	return keyPrefix + key
}
