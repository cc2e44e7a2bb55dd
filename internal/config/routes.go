package config

import (
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Routes はアクセスゲートのルート分類表とリダイレクト先。
type Routes struct {
	// PublicPaths はセッション無しで到達できるパス接頭辞。
	PublicPaths []string `yaml:"public_paths"`
	// AdminPaths はADMINロールが必要なパス接頭辞。
	AdminPaths []string `yaml:"admin_paths"`
	// ExcludedPaths はゲート自体を通さないビルド成果物等のパス接頭辞。
	ExcludedPaths []string `yaml:"excluded_paths"`
	// LoginPath は未認証時のリダイレクト先。
	LoginPath string `yaml:"login_path"`
	// ProfilePath はプロファイル選択画面。
	ProfilePath string `yaml:"profile_path"`
	// BrowsePath は認証済みユーザーの既定の着地点。
	BrowsePath string `yaml:"browse_path"`
	// SubscriptionPath はサブスクリプション管理画面。
	SubscriptionPath string `yaml:"subscription_path"`
	// APIPrefix はレートリミット対象となるAPIの接頭辞。
	APIPrefix string `yaml:"api_prefix"`
}

// DefaultRoutes はクライアントアプリと互換の既定のルート分類表を返す。
func DefaultRoutes() Routes {
	return Routes{
		PublicPaths: []string{
			"/auth/login",
			"/auth/register",
			"/auth/forgot-password",
			"/auth/reset-password",
			"/landing",
			"/api/auth",
			"/_next",
			"/favicon.ico",
			"/images",
			"/fonts",
		},
		AdminPaths: []string{
			"/admin",
			"/admin/dashboard",
			"/admin/content",
			"/admin/users",
			"/admin/analytics",
			"/admin/settings",
			"/admin/subscriptions",
		},
		ExcludedPaths: []string{
			"/_next/static",
			"/_next/image",
			"/favicon.ico",
		},
		LoginPath:        "/auth/login",
		ProfilePath:      "/profiles",
		BrowsePath:       "/browse",
		SubscriptionPath: "/subscription",
		APIPrefix:        "/api",
	}
}

// LoadRoutes はYAMLファイルからルート分類表を読み込む。
// ファイルに無い項目は既定値のまま残る。
func LoadRoutes(path string) (Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("ルート定義ファイルの読み込みに失敗: %w", err)
	}

	routes := DefaultRoutes()
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return Routes{}, fmt.Errorf("ルート定義ファイルの解析に失敗: %w", err)
	}
	return routes, nil
}

// Validate はすべてのパスが "/" で始まることを検証する。
func (r Routes) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PublicPaths, validation.Each(validation.By(isAbsolutePath))),
		validation.Field(&r.AdminPaths, validation.Required, validation.Each(validation.By(isAbsolutePath))),
		validation.Field(&r.ExcludedPaths, validation.Each(validation.By(isAbsolutePath))),
		validation.Field(&r.LoginPath, validation.Required, validation.By(isAbsolutePath)),
		validation.Field(&r.ProfilePath, validation.Required, validation.By(isAbsolutePath)),
		validation.Field(&r.BrowsePath, validation.Required, validation.By(isAbsolutePath)),
		validation.Field(&r.SubscriptionPath, validation.Required, validation.By(isAbsolutePath)),
		validation.Field(&r.APIPrefix, validation.Required, validation.By(isAbsolutePath)),
	)
}

// isAbsolutePath は値が "/" で始まり末尾に "/" を持たないパスかを検証する。
func isAbsolutePath(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "/") {
		return fmt.Errorf("%q は / で始まる必要があります", s)
	}
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		return fmt.Errorf("%q は / で終わってはいけません", s)
	}
	return nil
}
