package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/streamgate/internal/accessgate"
	"github.com/nao1215/streamgate/internal/config"
	"github.com/nao1215/streamgate/pkg/httpclient"
	"github.com/nao1215/streamgate/pkg/middleware"
	"github.com/nao1215/streamgate/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// upstreamRequest は上流が受け取ったリクエストの記録。
type upstreamRequest struct {
	Method string
	Path   string
	URI    string
	Query  string
	Body   string
	Header http.Header
}

// recorder は上流が受け取ったリクエストを記録する。
type recorder struct {
	mu   sync.Mutex
	reqs []upstreamRequest
}

func (r *recorder) add(req upstreamRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *recorder) last(t *testing.T) upstreamRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reqs) == 0 {
		t.Fatal("上流にリクエストが届いていない")
	}
	return r.reqs[len(r.reqs)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

// newTestServerWithUpstream はモック上流を持つテスト用サーバーを生成する。
// upstreamHandlerがnilの場合は受信内容を記録して200を返す。
func newTestServerWithUpstream(t *testing.T, upstreamHandler http.HandlerFunc) (*Server, *recorder) {
	t.Helper()

	rec := &recorder{}
	if upstreamHandler == nil {
		upstreamHandler = func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			rec.add(upstreamRequest{
				Method: r.Method,
				Path:   r.URL.Path,
				URI:    r.RequestURI,
				Query:  r.URL.RawQuery,
				Body:   string(body),
				Header: r.Header.Clone(),
			})
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Upstream", "web")
			_, _ = w.Write([]byte("upstream:" + r.URL.Path))
		}
	}
	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	return newTestServer(t, upstream.URL), rec
}

// newTestServer は指定した上流URLに転送するテスト用サーバーを生成する。
func newTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()

	verifier, err := session.NewHMACVerifier(testJWTSecret, 0)
	if err != nil {
		t.Fatalf("検証器の生成に失敗: %v", err)
	}
	gate, err := accessgate.New(accessgate.Options{
		Routes:    config.DefaultRoutes(),
		Verifier:  verifier,
		RateLimit: accessgate.HeaderSource{Header: "x-rate-limit-count"},
	})
	if err != nil {
		t.Fatalf("ゲートの生成に失敗: %v", err)
	}

	cfg := config.Config{
		Port:           "0",
		AllowedOrigins: []string{"http://localhost:3000"},
		Upstream: config.UpstreamConfig{
			URL:        upstreamURL,
			HealthPath: "/api/health",
			Timeout:    2 * time.Second,
		},
	}
	s, err := NewServer(cfg, Deps{
		Gate:     gate,
		Upstream: httpclient.New(upstreamURL, cfg.Upstream.Timeout),
	})
	if err != nil {
		t.Fatalf("サーバーの生成に失敗: %v", err)
	}
	return s
}

// generateTestJWT はプロファイル選択済み・サブスクリプション有効のトークンを生成する。
func generateTestJWT(t *testing.T, userID string, role session.Role) string {
	t.Helper()

	profile := "profile-" + userID
	token, err := session.Issue(testJWTSecret, session.Claims{
		UserID:             userID,
		Role:               role,
		ActiveProfile:      &profile,
		SubscriptionStatus: session.SubscriptionActive,
	}, time.Hour)
	if err != nil {
		t.Fatalf("テスト用JWT生成に失敗: %v", err)
	}
	return token
}

// withSession はリクエストにセッションクッキーを付ける。
func withSession(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	return req
}

// TestNewServer はサーバー生成時の入力検証を確認する。
func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("ゲートが無い場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()
		if _, err := NewServer(config.Config{}, Deps{Upstream: httpclient.New("http://localhost", time.Second)}); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("上流クライアントが無い場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()
		verifier, _ := session.NewHMACVerifier(testJWTSecret, 0)
		gate, err := accessgate.New(accessgate.Options{Routes: config.DefaultRoutes(), Verifier: verifier})
		if err != nil {
			t.Fatalf("ゲートの生成に失敗: %v", err)
		}
		if _, err := NewServer(config.Config{}, Deps{Gate: gate}); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})
}

// TestHealthz は生存確認エンドポイントを検証する。
func TestHealthz(t *testing.T) {
	t.Parallel()

	s, rec := newTestServerWithUpstream(t, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "streamgate" {
		t.Errorf("body = %v", body)
	}
	if rec.count() != 0 {
		t.Error("ヘルスチェックが上流へ転送された")
	}
}

// TestReadyz はレディネス確認エンドポイントを検証する。
func TestReadyz(t *testing.T) {
	t.Parallel()

	t.Run("上流が正常なら200を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithUpstream(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/health" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("上流がエラーなら503を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// TestProxy_Gate はゲートの判定がプロキシより先に適用されることを検証する。
func TestProxy_Gate(t *testing.T) {
	t.Parallel()

	t.Run("未認証のリクエストは転送されずログインへリダイレクトされること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://watch.test/browse?row=2", nil))

		if w.Code != http.StatusTemporaryRedirect {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTemporaryRedirect)
		}
		want := "http://watch.test/auth/login?callbackUrl=http%3A%2F%2Fwatch.test%2Fbrowse%3Frow%3D2"
		if got := w.Header().Get("Location"); got != want {
			t.Errorf("Location = %q, want %q", got, want)
		}
		if rec.count() != 0 {
			t.Error("未認証のリクエストが上流へ転送された")
		}
	})

	t.Run("一般ユーザーの管理画面アクセスはブラウズ画面へリダイレクトされること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		w := httptest.NewRecorder()
		req := withSession(httptest.NewRequest(http.MethodGet, "http://watch.test/admin/users", nil), generateTestJWT(t, "u1", session.RoleUser))
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusTemporaryRedirect || w.Header().Get("Location") != "http://watch.test/browse" {
			t.Errorf("応答 = %d %q", w.Code, w.Header().Get("Location"))
		}
		if rec.count() != 0 {
			t.Error("権限の無いリクエストが上流へ転送された")
		}
	})

	t.Run("レートリミット超過は429で拒否されること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		req := withSession(httptest.NewRequest(http.MethodGet, "/api/titles", nil), generateTestJWT(t, "u1", session.RoleUser))
		req.Header.Set("x-rate-limit-count", "150")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if w.Body.String() != `{"success":false,"message":"Rate limit exceeded"}` {
			t.Errorf("ボディ = %s", w.Body.String())
		}
		if rec.count() != 0 {
			t.Error("拒否したリクエストが上流へ転送された")
		}
	})
}

// TestProxy_PathTraversal は正規化前のパスで規則を迂回できないことを検証する。
func TestProxy_PathTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		target       string
		role         session.Role
		wantLocation string
	}{
		{
			name:         "ログイン画面を経由した管理画面はログインへリダイレクトされること",
			target:       "http://watch.test/auth/login/../../admin/users",
			wantLocation: "http://watch.test/auth/login?callbackUrl=http%3A%2F%2Fwatch.test%2Fadmin%2Fusers",
		},
		{
			name:         "エンコードされたドットセグメントもログインへリダイレクトされること",
			target:       "http://watch.test/auth/login/%2e%2e/%2e%2e/admin",
			wantLocation: "http://watch.test/auth/login?callbackUrl=http%3A%2F%2Fwatch.test%2Fadmin",
		},
		{
			name:         "静的アセットを経由した管理画面はログインへリダイレクトされること",
			target:       "http://watch.test/_next/../admin/settings",
			wantLocation: "http://watch.test/auth/login?callbackUrl=http%3A%2F%2Fwatch.test%2Fadmin%2Fsettings",
		},
		{
			name:         "連続スラッシュの管理画面は一般ユーザーをブラウズ画面へリダイレクトすること",
			target:       "http://watch.test//admin/users",
			role:         session.RoleUser,
			wantLocation: "http://watch.test/browse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, rec := newTestServerWithUpstream(t, nil)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.role != "" {
				req = withSession(req, generateTestJWT(t, "u1", tt.role))
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusTemporaryRedirect {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTemporaryRedirect)
			}
			if got := w.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
			if rec.count() != 0 {
				t.Error("迂回したリクエストが上流へ転送された")
			}
		})
	}

	t.Run("管理者のリクエストは正規化したパスで転送されること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		req := withSession(httptest.NewRequest(http.MethodGet, "http://watch.test/browse/%2e%2e//admin/users/?page=2", nil), generateTestJWT(t, "u1", session.RoleAdmin))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		got := rec.last(t)
		if got.URI != "/admin/users/?page=2" {
			t.Errorf("上流のRequestURI = %q, want %q", got.URI, "/admin/users/?page=2")
		}
	})
}

// TestProxy_Forward は上流への転送内容を検証する。
func TestProxy_Forward(t *testing.T) {
	t.Parallel()

	t.Run("認証済みリクエストが識別ヘッダー付きで転送されること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		req := withSession(httptest.NewRequest(http.MethodPost, "/api/watchlist?source=row", strings.NewReader(`{"titleId":"t1"}`)), generateTestJWT(t, "u1", session.RoleAdmin))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(httpclient.HeaderUserID, "spoofed")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Body.String() != "upstream:/api/watchlist" {
			t.Errorf("ボディ = %q", w.Body.String())
		}
		if w.Header().Get("X-Upstream") != "web" {
			t.Error("上流のレスポンスヘッダーが返されていない")
		}

		got := rec.last(t)
		if got.Method != http.MethodPost || got.Path != "/api/watchlist" || got.Query != "source=row" {
			t.Errorf("転送内容 = %+v", got)
		}
		if got.Body != `{"titleId":"t1"}` {
			t.Errorf("転送ボディ = %q", got.Body)
		}
		if got.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
		}
		if got.Header.Get(httpclient.HeaderUserID) != "u1" {
			t.Errorf("x-user-id = %q, want u1", got.Header.Get(httpclient.HeaderUserID))
		}
		if got.Header.Get(httpclient.HeaderUserRole) != "ADMIN" {
			t.Errorf("x-user-role = %q, want ADMIN", got.Header.Get(httpclient.HeaderUserRole))
		}
		if got.Header.Get(httpclient.HeaderProfileID) != "profile-u1" {
			t.Errorf("x-profile-id = %q", got.Header.Get(httpclient.HeaderProfileID))
		}
		if got.Header.Get(middleware.RequestIDHeader) == "" {
			t.Error("X-Request-IDが転送されていない")
		}
		if got.Header.Get(middleware.RequestIDHeader) != w.Header().Get(middleware.RequestIDHeader) {
			t.Error("転送とレスポンスのX-Request-IDが一致しない")
		}
	})

	t.Run("公開パスは識別ヘッダー無しで転送されること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		req.Header.Set(httpclient.HeaderUserRole, "ADMIN")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		got := rec.last(t)
		if got.Header.Get(httpclient.HeaderUserRole) != "" || got.Header.Get(httpclient.HeaderUserID) != "" {
			t.Errorf("識別ヘッダーが転送された: %v", got.Header)
		}
	})

	t.Run("除外パスは不正なトークンでもそのまま転送されること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/_next/static/chunks/app.js", nil), "broken"))

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if rec.last(t).Path != "/_next/static/chunks/app.js" {
			t.Errorf("転送パス = %q", rec.last(t).Path)
		}
	})

	t.Run("上流のステータス・リダイレクト・クッキーがそのまま返ること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "pref", Value: "dark", Path: "/"})
			w.Header().Set("Location", "/browse")
			w.WriteHeader(http.StatusSeeOther)
		})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, withSession(httptest.NewRequest(http.MethodPost, "/settings", nil), generateTestJWT(t, "u1", session.RoleUser)))

		if w.Code != http.StatusSeeOther {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusSeeOther)
		}
		if w.Header().Get("Location") != "/browse" {
			t.Errorf("Location = %q", w.Header().Get("Location"))
		}
		if !strings.Contains(w.Header().Get("Set-Cookie"), "pref=dark") {
			t.Errorf("Set-Cookie = %q", w.Header().Get("Set-Cookie"))
		}
	})

	t.Run("上流の空ボディ404がそのまま返ること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/watch/missing", nil), generateTestJWT(t, "u1", session.RoleUser)))

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if w.Body.Len() != 0 {
			t.Errorf("ボディ = %q, want empty", w.Body.String())
		}
	})
}

// TestProxy_ForwardedHeaders はクライアントのX-Forwardedヘッダーを既定で信頼しないことを検証する。
func TestProxy_ForwardedHeaders(t *testing.T) {
	t.Parallel()

	t.Run("偽装したホストはリダイレクト先に使われないこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithUpstream(t, nil)
		req := httptest.NewRequest(http.MethodGet, "http://watch.test/browse", nil)
		req.Header.Set("X-Forwarded-Host", "evil.example.net")
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		want := "http://watch.test/auth/login?callbackUrl=http%3A%2F%2Fwatch.test%2Fbrowse"
		if got := w.Header().Get("Location"); got != want {
			t.Errorf("Location = %q, want %q", got, want)
		}
	})

	t.Run("上流にはゲートが見たホストが渡されること", func(t *testing.T) {
		t.Parallel()

		s, rec := newTestServerWithUpstream(t, nil)
		req := withSession(httptest.NewRequest(http.MethodGet, "http://watch.test/browse", nil), generateTestJWT(t, "u1", session.RoleUser))
		req.Header.Set("X-Forwarded-Host", "evil.example.net")
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		got := rec.last(t)
		if got.Header.Get("X-Forwarded-Host") != "watch.test" || got.Header.Get("X-Forwarded-Proto") != "http" {
			t.Errorf("X-Forwarded-Host = %q, X-Forwarded-Proto = %q", got.Header.Get("X-Forwarded-Host"), got.Header.Get("X-Forwarded-Proto"))
		}
	})
}

// TestProxy_UpstreamDown は上流に到達できない場合の応答を検証する。
func TestProxy_UpstreamDown(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	s := newTestServer(t, url)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/browse", nil), generateTestJWT(t, "u1", session.RoleUser)))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body["error"] == "" {
		t.Error("errorフィールドが空")
	}
}

// TestCORSPreflight はプリフライトがゲートより先に応答されることを検証する。
func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	s, rec := newTestServerWithUpstream(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/titles", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Access-Control-Allow-Credentialsが設定されていない")
	}
	if rec.count() != 0 {
		t.Error("プリフライトが上流へ転送された")
	}
}
