package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// devIssuer は開発用トークンの発行者名。
const devIssuer = "streamgate-dev"

// Issue は共有秘密鍵でHS256トークンに署名する。
// ゲートウェイ本体は使わず、開発用CLIとテストからのみ呼び出す。
func Issue(secret string, claims Claims, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWTの秘密鍵が設定されていません")
	}
	if err := claims.Validate(); err != nil {
		return "", fmt.Errorf("クレームが不正: %w", err)
	}

	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Issuer == "" {
		claims.Issuer = devIssuer
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}
