package accessgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nao1215/streamgate/internal/config"
	"github.com/nao1215/streamgate/pkg/session"
)

// DefaultRateLimitThreshold はAPIリクエスト数の既定の上限。これを超えると拒否する。
const DefaultRateLimitThreshold = 100

// CallbackParam はログイン後の戻り先URLを運ぶクエリパラメータ名。
const CallbackParam = "callbackUrl"

// Request は判定に必要なリクエスト情報。
type Request struct {
	// URL は元のリクエストの絶対URL。
	URL *url.URL
	// Token はクッキーから取り出したセッショントークン。無ければ空文字列。
	Token string
	// Header はリクエストヘッダー。レートリミットのヘッダーソースが参照する。
	Header http.Header
}

// Decision はリクエストに対する判定結果。
type Decision struct {
	// Outcome は判定結果の種類。
	Outcome Outcome
	// Location はリダイレクト先の絶対URL。リダイレクト以外では空。
	Location string
	// ClearCookie はセッションクッキーを削除するかどうか。
	ClearCookie bool
	// Claims は検証済みのクレーム。検証前に決まった判定ではnil。
	Claims *session.Claims
	// Err は判定理由。通過させる判定ではnil。
	Err error
}

// Options はGateの構成。
type Options struct {
	// Routes はルート分類表。
	Routes config.Routes
	// Verifier はセッショントークンの検証器。
	Verifier session.Verifier
	// RateLimit はAPIリクエスト数の取得元。nilならレートリミットを行わない。
	RateLimit RateLimitSource
	// Threshold はAPIリクエスト数の上限。0以下なら既定値を使う。
	Threshold int64
	// SecureCookies はクッキー削除時にSecure属性を付けるかどうか。
	SecureCookies bool
	// TrustForwardedHeaders はX-Forwarded-Host/X-Forwarded-Protoを信頼するかどうか。
	// 信頼できるリバースプロキシの背後に置く場合だけ有効にする。
	TrustForwardedHeaders bool
	// Logger は判定ログの出力先。nilならslog.Default()を使う。
	Logger *slog.Logger
}

// Gate はリクエストごとのアクセス判定を行う。
// 複数のゴルーチンから同時に使ってよい。
type Gate struct {
	routes        config.Routes
	verifier      session.Verifier
	rateLimit     RateLimitSource
	threshold     int64
	secureCookies bool
	trustForward  bool
	logger        *slog.Logger
}

// New は新しいGateを生成する。
func New(opts Options) (*Gate, error) {
	if opts.Verifier == nil {
		return nil, errors.New("トークン検証器が指定されていません")
	}
	if err := opts.Routes.Validate(); err != nil {
		return nil, fmt.Errorf("ルート定義が不正です: %w", err)
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultRateLimitThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate{
		routes:        opts.Routes,
		verifier:      opts.Verifier,
		rateLimit:     opts.RateLimit,
		threshold:     opts.Threshold,
		secureCookies: opts.SecureCookies,
		trustForward:  opts.TrustForwardedHeaders,
		logger:        opts.Logger,
	}, nil
}

// Decide はリクエストに対する判定を1つだけ返す。
// 規則は上から順に評価し、最初に当てはまったものを採用する。
func (g *Gate) Decide(ctx context.Context, req Request) Decision {
	path := CanonicalPath(req.URL.Path)
	if g.IsPublic(path) {
		return Decision{Outcome: OutcomePublic}
	}

	if req.Token == "" {
		return Decision{
			Outcome:  OutcomeUnauthenticated,
			Location: g.loginURL(req.URL),
			Err:      ErrNoSession,
		}
	}

	claims, err := g.verifier.Verify(ctx, req.Token)
	if err != nil {
		return Decision{
			Outcome:     OutcomeInvalidToken,
			Location:    g.loginURL(req.URL),
			ClearCookie: true,
			Err:         fmt.Errorf("%w: %w", ErrInvalidSession, err),
		}
	}

	onProfilePath := path == g.routes.ProfilePath
	if !claims.HasActiveProfile() && !onProfilePath {
		return g.redirect(OutcomeNoProfile, req.URL, g.routes.ProfilePath, claims, ErrIncompleteSession)
	}

	isAdminPath := MatchPath(path, g.routes.AdminPaths)
	if isAdminPath && !claims.IsAdmin() {
		return g.redirect(OutcomeUnauthorized, req.URL, g.routes.BrowsePath, claims, ErrForbidden)
	}

	// プロファイル未選択のセッションがプロファイル選択画面を開く場合は
	// サブスクリプション画面へ送らない。送るとプロファイル要求と交互にリダイレクトし続ける。
	exempt := onProfilePath && !claims.HasActiveProfile()
	if !isAdminPath && path != g.routes.SubscriptionPath && !exempt && !claims.IsSubscribed() {
		return g.redirect(OutcomeUnsubscribed, req.URL, g.routes.SubscriptionPath, claims, ErrSubscriptionRequired)
	}

	if g.rateLimit != nil && matchRule(path, g.routes.APIPrefix) {
		count, ok, err := g.rateLimit.Count(ctx, req.Header, claims)
		switch {
		case err != nil:
			g.logger.WarnContext(ctx, "レートリミットの取得に失敗したため通過させます",
				slog.String("user_id", claims.UserID),
				slog.String("error", err.Error()),
			)
		case ok && count > g.threshold:
			return Decision{
				Outcome: OutcomeRateLimited,
				Claims:  claims,
				Err:     fmt.Errorf("%w: count=%d", ErrRateLimited, count),
			}
		}
	}

	return Decision{Outcome: OutcomeAuthorized, Claims: claims}
}

// IsPublic はpathが公開パスかを返す。
func (g *Gate) IsPublic(path string) bool {
	return MatchPath(path, g.routes.PublicPaths)
}

// IsExcluded はpathがゲートを通さないパスかを返す。
func (g *Gate) IsExcluded(path string) bool {
	return MatchPath(path, g.routes.ExcludedPaths)
}

// redirect はpathへのリダイレクト判定を作る。
func (g *Gate) redirect(outcome Outcome, origin *url.URL, path string, claims *session.Claims, reason error) Decision {
	return Decision{
		Outcome:  outcome,
		Location: resolve(origin, path, nil),
		Claims:   claims,
		Err:      reason,
	}
}

// loginURL は元のURLをcallbackUrlに載せたログイン画面のURLを返す。
func (g *Gate) loginURL(origin *url.URL) string {
	q := url.Values{}
	q.Set(CallbackParam, origin.String())
	return resolve(origin, g.routes.LoginPath, q)
}

// resolve はoriginと同じスキーム・ホストでpathを指す絶対URLを返す。
func resolve(origin *url.URL, path string, query url.Values) string {
	u := url.URL{
		Scheme: origin.Scheme,
		Host:   origin.Host,
		Path:   path,
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
