package accessgate

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/nao1215/streamgate/pkg/ratelimit"
	"github.com/nao1215/streamgate/pkg/session"
)

// RateLimitSource はAPIリクエストの現在の回数を返す。
// okがfalseの場合は回数が不明で、レートリミットを適用しない。
type RateLimitSource interface {
	Count(ctx context.Context, header http.Header, claims *session.Claims) (count int64, ok bool, err error)
}

// HeaderSource は上流が付与したヘッダーの整数値を回数として使う。
// ヘッダーを付与した経路を信頼できる構成でのみ使う。
type HeaderSource struct {
	// Header は回数を読むヘッダー名。
	Header string
}

// Count はヘッダーの値を返す。ヘッダーが無いか整数でない場合はok=false。
func (s HeaderSource) Count(_ context.Context, header http.Header, _ *session.Claims) (int64, bool, error) {
	raw := strings.TrimSpace(header.Get(s.Header))
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// CounterSource は検証済みのユーザーIDごとにカウンターを加算して回数とする。
type CounterSource struct {
	Counter ratelimit.Counter
}

// Count はユーザーIDのカウンターを加算し、加算後の値を返す。
func (s CounterSource) Count(ctx context.Context, _ http.Header, claims *session.Claims) (int64, bool, error) {
	n, err := s.Counter.Incr(ctx, "api:"+claims.UserID)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
