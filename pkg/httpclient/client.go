package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client は上流アプリケーション用のHTTPクライアント。
type Client struct {
	// httpClient はJSON APIの呼び出しに使う。全体のタイムアウトを持つ。
	httpClient *http.Client
	// forwardClient はリクエスト転送に使う。動画配信のような長いボディを
	// 途中で切らないよう、レスポンスヘッダーまでの待ち時間だけを制限する。
	forwardClient *http.Client
	// baseURL は上流のベースURL。
	baseURL string
}

// New は新しい上流クライアントを生成する。
// baseURLには上流のベースURL（例: "http://web:3000"）を指定する。
func New(baseURL string, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		forwardClient: &http.Client{
			Transport: transport,
			// 上流のリダイレクトはブラウザにそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := IdentityFrom(ctx); ok {
		id.Apply(req.Header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTPエラー: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// hopHeaders は転送時に引き継がないホップ間ヘッダー。
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders はホップ間ヘッダーとConnectionで指定されたヘッダーを取り除く。
func RemoveHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// Forward は受信リクエストを同じメソッド・パス・クエリ・ボディで上流へ転送する。
// 識別ヘッダーはコンテキストの識別情報からのみ設定する。
// 呼び出し側はレスポンスボディを閉じる必要がある。
func (c *Client) Forward(ctx context.Context, in *http.Request) (*http.Response, error) {
	target := c.baseURL + in.URL.EscapedPath()
	if in.URL.RawQuery != "" {
		target += "?" + in.URL.RawQuery
	}

	var body io.Reader
	if in.Body != nil && in.Body != http.NoBody {
		body = in.Body
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("プロキシリクエストの作成に失敗: %w", err)
	}
	out.ContentLength = in.ContentLength

	out.Header = in.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	RemoveHopHeaders(out.Header)
	StripIdentity(out.Header)
	if id, ok := IdentityFrom(ctx); ok {
		id.Apply(out.Header)
	}
	setForwardedHeaders(out.Header, in)

	resp, err := c.forwardClient.Do(out)
	if err != nil {
		return nil, fmt.Errorf("上流への転送に失敗: %w", err)
	}
	return resp, nil
}

// setForwardedHeaders はX-Forwarded-*ヘッダーを設定する。
func setForwardedHeaders(h http.Header, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	if h.Get("X-Forwarded-Host") == "" {
		h.Set("X-Forwarded-Host", in.Host)
	}
	if h.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if in.TLS != nil {
			proto = "https"
		}
		h.Set("X-Forwarded-Proto", proto)
	}
}
