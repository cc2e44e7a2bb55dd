package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/streamgate/pkg/httpclient"
	"github.com/nao1215/streamgate/pkg/middleware"
)

// copyBufferSize はレスポンスボディの転送に使うバッファサイズ。
const copyBufferSize = 32 * 1024

// handleProxy はリクエストを上流へ転送し、レスポンスをそのまま返すハンドラを返す。
// 識別ヘッダーはゲートがコンテキストに載せた識別情報から設定される。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.upstream.Forward(c.Request.Context(), c.Request)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// クライアントが切断済み
				c.Abort()
				return
			}
			s.logger.ErrorContext(c.Request.Context(), "プロキシエラー",
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.String("request_id", middleware.GetRequestID(c)),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "上流サービスとの通信に失敗しました"})
			return
		}
		defer resp.Body.Close()

		header := c.Writer.Header()
		upstreamHeader := resp.Header.Clone()
		httpclient.RemoveHopHeaders(upstreamHeader)
		for k, vs := range upstreamHeader {
			// CORSはゲートウェイ側で応答する
			if isCORSHeader(k) && header.Get(k) != "" {
				continue
			}
			header.Del(k)
			for _, v := range vs {
				header.Add(k, v)
			}
		}
		c.Status(resp.StatusCode)
		c.Writer.WriteHeaderNow()

		if err := copyBody(c.Writer, resp.Body); err != nil {
			s.logger.WarnContext(c.Request.Context(), "レスポンスの転送を中断しました",
				slog.String("path", c.Request.URL.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// copyBody はボディを読み取ったそばから書き出してフラッシュする。
func copyBody(w gin.ResponseWriter, body io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			w.Flush()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// isCORSHeader はCORS関連のレスポンスヘッダーかを返す。
func isCORSHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Access-Control-Allow-Origin",
		"Access-Control-Allow-Credentials",
		"Access-Control-Allow-Methods",
		"Access-Control-Allow-Headers",
		"Access-Control-Max-Age",
		"Vary":
		return true
	default:
		return false
	}
}
