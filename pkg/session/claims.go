package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName はセッショントークンを運ぶクッキー名。
const CookieName = "token"

// SubscriptionActive は有効なサブスクリプションを表す唯一の値。
const SubscriptionActive = "ACTIVE"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleAdmin は管理画面にアクセスできる管理者ロール。
	RoleAdmin Role = "ADMIN"
	// RoleUser は一般視聴者ロール。
	RoleUser Role = "USER"
)

// Valid はロールが既知の値であるかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

var (
	// ErrMissingUserID はuserIdクレームが無いことを表す。
	ErrMissingUserID = errors.New("userIdクレームがありません")
	// ErrInvalidRole はroleクレームが無いか未知の値であることを表す。
	ErrInvalidRole = errors.New("roleクレームが不正です")
)

// Claims はセッショントークンのクレーム（ペイロード）を表す。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はセッションの主体となるユーザーID。必須。
	UserID string `json:"userId"`
	// Role はユーザーのロール。必須。
	Role Role `json:"role"`
	// ActiveProfile は選択中の視聴プロファイルID。未選択ならnil。
	ActiveProfile *string `json:"activeProfile,omitempty"`
	// SubscriptionStatus はサブスクリプションの状態。
	SubscriptionStatus string `json:"subscriptionStatus,omitempty"`
}

// Validate は必須クレームを検証する。
// jwt.ClaimsValidator を満たすため、パース時に自動で呼ばれる。
func (c *Claims) Validate() error {
	if c.UserID == "" {
		return ErrMissingUserID
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	return nil
}

// HasActiveProfile は視聴プロファイルが選択済みかを返す。
func (c *Claims) HasActiveProfile() bool {
	return c.ActiveProfile != nil && *c.ActiveProfile != ""
}

// ProfileID は選択中のプロファイルIDを返す。未選択なら空文字列。
func (c *Claims) ProfileID() string {
	if !c.HasActiveProfile() {
		return ""
	}
	return *c.ActiveProfile
}

// IsAdmin は管理者ロールかを返す。
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsSubscribed はサブスクリプションが有効かを返す。
func (c *Claims) IsSubscribed() bool {
	return c.SubscriptionStatus == SubscriptionActive
}
