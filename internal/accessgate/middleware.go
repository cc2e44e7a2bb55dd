package accessgate

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/streamgate/pkg/httpclient"
	"github.com/nao1215/streamgate/pkg/session"
)

// ClaimsKey はgin.Contextに検証済みクレームを保存するキー。
const ClaimsKey = "session_claims"

// rateLimitedResponse は429応答のボディ。
type rateLimitedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Middleware はGateの判定をginのリクエストに適用するミドルウェアを返す。
//
// 受信した識別ヘッダーは常に取り除く。プロキシ由来のヘッダーは信頼しない設定なら取り除く。
// パスはドットセグメントと連続スラッシュを解決した形に書き換えてから判定する。
// 除外パスは判定せずに通過させる。
// 通過時は識別ヘッダーをリクエストに設定し、コンテキストにも識別情報を載せる。
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpclient.StripIdentity(c.Request.Header)
		if !g.trustForward {
			stripForwarded(c.Request.Header)
		}
		// 判定と転送は正規化したパスで行う
		canonicalizeURL(c.Request.URL)

		if g.IsExcluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		token, _ := c.Cookie(session.CookieName)
		d := g.Decide(c.Request.Context(), Request{
			URL:    requestURL(c.Request, g.trustForward),
			Token:  token,
			Header: c.Request.Header,
		})
		g.log(c, d)

		switch {
		case d.Outcome.IsRedirect():
			if d.ClearCookie {
				http.SetCookie(c.Writer, g.expiredCookie())
			}
			c.Redirect(http.StatusTemporaryRedirect, d.Location)
			c.Abort()
		case d.Outcome == OutcomeRateLimited:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitedResponse{
				Success: false,
				Message: "Rate limit exceeded",
			})
		case d.Outcome == OutcomeAuthorized:
			id := httpclient.Identity{
				UserID:    d.Claims.UserID,
				Role:      string(d.Claims.Role),
				ProfileID: d.Claims.ProfileID(),
			}
			id.Apply(c.Request.Header)
			c.Request = c.Request.WithContext(httpclient.WithIdentity(c.Request.Context(), id))
			c.Set(ClaimsKey, d.Claims)
			c.Next()
		default:
			c.Next()
		}
	}
}

// ClaimsFrom はミドルウェアが保存した検証済みクレームを取り出す。
func ClaimsFrom(c *gin.Context) (*session.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*session.Claims)
	return claims, ok
}

// expiredCookie はセッションクッキーを削除するためのクッキーを返す。
func (g *Gate) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// log は判定結果を出力する。通過はDebug、それ以外はInfoで出力する。
func (g *Gate) log(c *gin.Context, d Decision) {
	attrs := []slog.Attr{
		slog.String("outcome", d.Outcome.String()),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	}
	if d.Claims != nil {
		attrs = append(attrs, slog.String("user_id", d.Claims.UserID))
	}
	if d.Err != nil {
		attrs = append(attrs, slog.String("reason", d.Err.Error()))
	}

	level := slog.LevelInfo
	if d.Err == nil {
		level = slog.LevelDebug
	}
	g.logger.LogAttrs(c.Request.Context(), level, "アクセス判定", attrs...)
}

// canonicalizeURL はURLのパスを正規化し、エスケープ表現も正規化後のパスに合わせる。
func canonicalizeURL(u *url.URL) {
	u.Path = CanonicalPath(u.Path)
	u.RawPath = ""
}

// forwardedHeaders は信頼しないクライアントから受け取っても捨てるプロキシ由来のヘッダー。
var forwardedHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}

// stripForwarded はプロキシ由来のヘッダーを取り除く。
func stripForwarded(h http.Header) {
	for _, name := range forwardedHeaders {
		h.Del(name)
	}
}

// requestURL は元のリクエストの絶対URLを組み立てる。
// trustForwardがtrueのときだけX-Forwarded-Host/X-Forwarded-Protoを使う。
func requestURL(r *http.Request, trustForward bool) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if trustForward {
		switch proto := strings.ToLower(firstValue(r.Header.Get("X-Forwarded-Proto"))); proto {
		case "http", "https":
			scheme = proto
		}
		if fwd := firstValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
			host = fwd
		}
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
}

// firstValue はカンマ区切りのヘッダー値の先頭を返す。
func firstValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
