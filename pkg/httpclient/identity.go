package httpclient

import (
	"context"
	"net/http"
)

// 上流へ伝播する識別ヘッダーのキー。
const (
	HeaderUserID    = "x-user-id"
	HeaderUserRole  = "x-user-role"
	HeaderProfileID = "x-profile-id"
)

// Identity はゲートで検証済みのユーザー識別情報。
type Identity struct {
	// UserID はユーザーID。
	UserID string
	// Role はユーザーのロール。
	Role string
	// ProfileID は選択中のプロファイルID。未選択なら空文字列。
	ProfileID string
}

// Apply は識別ヘッダーをhに設定する。ProfileIDが空ならx-profile-idを削除する。
func (id Identity) Apply(h http.Header) {
	h.Set(HeaderUserID, id.UserID)
	h.Set(HeaderUserRole, id.Role)
	if id.ProfileID != "" {
		h.Set(HeaderProfileID, id.ProfileID)
	} else {
		h.Del(HeaderProfileID)
	}
}

// StripIdentity はクライアントが送ってきた識別ヘッダーを取り除く。
func StripIdentity(h http.Header) {
	h.Del(HeaderUserID)
	h.Del(HeaderUserRole)
	h.Del(HeaderProfileID)
}

// contextKey はコンテキストキーの型。
type contextKey struct{}

// WithIdentity はコンテキストに識別情報を設定する。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom はコンテキストから識別情報を取り出す。
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
