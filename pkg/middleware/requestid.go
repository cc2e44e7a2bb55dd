package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを運ぶヘッダー名。
const RequestIDHeader = "X-Request-ID"

// requestIDKey はgin.ContextにリクエストIDを保存するキー。
const requestIDKey = "request_id"

// maxRequestIDLength は受け入れるリクエストIDの最大長。
const maxRequestIDLength = 128

// RequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
// 受信したX-Request-IDがあれば引き継ぎ、無ければUUIDを生成する。
// IDはレスポンスヘッダーと、上流へ転送するリクエストヘッダーの両方に設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Request.Header.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

// GetRequestID はコンテキストからリクエストIDを取り出す。未設定なら空文字列。
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
