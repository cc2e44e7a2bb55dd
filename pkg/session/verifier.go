package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken は署名不正・形式不正・期限切れ・必須クレーム欠落など、
// 検証に失敗したトークンを表す。原因にかかわらずセッション無しとして扱う。
var ErrInvalidToken = errors.New("トークンが無効です")

// Verifier はセッショントークンを検証してクレームを取り出す。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// hmacMethods はHMAC検証で許可する署名アルゴリズム。
var hmacMethods = []string{"HS256", "HS384", "HS512"}

// jwksMethods はJWKS検証で許可する署名アルゴリズム。
var jwksMethods = []string{"RS256", "ES256"}

// HMACVerifier は共有秘密鍵でHS系トークンを検証する。
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACVerifier は共有秘密鍵による検証器を生成する。
// 秘密鍵が空の場合はエラーを返す。既定の秘密鍵は存在しない。
func NewHMACVerifier(secret string, leeway time.Duration) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWTの秘密鍵が設定されていません")
	}
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods(hmacMethods),
			jwt.WithLeeway(leeway),
			jwt.WithIssuedAt(),
		),
	}, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
func (v *HMACVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	return parse(v.parser, token, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
}

// JWKSVerifier は発行者が公開するJWKSの公開鍵でRS256/ES256トークンを検証する。
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	parser *jwt.Parser
}

// NewJWKSVerifier はJWKSエンドポイントから鍵を取得する検証器を生成する。
// 鍵はkeyfuncがHTTPキャッシュヘッダーに従って更新する。
func NewJWKSVerifier(ctx context.Context, jwksURL string, leeway time.Duration) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKSのURLが設定されていません")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("JWKSクライアントの生成に失敗: %w", err)
	}
	return newJWKSVerifier(jwks, leeway), nil
}

// newJWKSVerifier は取得済みのkeyfuncから検証器を組み立てる。
func newJWKSVerifier(jwks keyfunc.Keyfunc, leeway time.Duration) *JWKSVerifier {
	return &JWKSVerifier{
		jwks: jwks,
		parser: jwt.NewParser(
			jwt.WithValidMethods(jwksMethods),
			jwt.WithLeeway(leeway),
			jwt.WithIssuedAt(),
		),
	}
}

// Verify はJWKSの公開鍵でトークンを検証し、クレームを返す。
func (v *JWKSVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	return parse(v.parser, token, v.jwks.Keyfunc)
}

// parse は検証器共通のパース処理。失敗はすべて ErrInvalidToken に丸める。
func parse(parser *jwt.Parser, tokenString string, keyFunc jwt.Keyfunc) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
