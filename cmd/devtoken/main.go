// 開発用のセッショントークンを発行するコマンド。
// ゲートウェイと同じ JWT_SECRET で署名したトークンを標準出力に書き出す。
// ローカル環境で token クッキーに設定して使う。
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nao1215/streamgate/pkg/session"
)

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Getenv("JWT_SECRET"), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

// run は引数を解析してトークンを発行し、wに書き出す。
func run(args []string, envSecret string, w io.Writer) error {
	fs := flag.NewFlagSet("devtoken", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	secret := fs.String("secret", envSecret, "署名に使う秘密鍵（既定: JWT_SECRET）")
	userID := fs.String("user", "dev-user", "userIdクレーム")
	role := fs.String("role", string(session.RoleUser), "roleクレーム（ADMIN または USER）")
	profile := fs.String("profile", "", "activeProfileクレーム（空なら未選択）")
	subscription := fs.String("subscription", session.SubscriptionActive, "subscriptionStatusクレーム")
	ttl := fs.Duration("ttl", 24*time.Hour, "有効期間")
	cookie := fs.Bool("cookie", false, "Set-Cookieヘッダー形式で出力する")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("引数の解析に失敗: %w", err)
	}
	if *secret == "" {
		return errors.New("秘密鍵が指定されていません（-secret または JWT_SECRET）")
	}
	if *ttl <= 0 {
		return errors.New("-ttl は正の値を指定してください")
	}

	claims := session.Claims{
		UserID:             *userID,
		Role:               session.Role(strings.ToUpper(*role)),
		SubscriptionStatus: *subscription,
	}
	if *profile != "" {
		claims.ActiveProfile = profile
	}

	token, err := session.Issue(*secret, claims, *ttl)
	if err != nil {
		return err
	}

	if *cookie {
		_, err = fmt.Fprintf(w, "Set-Cookie: %s=%s; Path=/; HttpOnly; SameSite=Lax; Max-Age=%d\n",
			session.CookieName, token, int(ttl.Seconds()))
	} else {
		_, err = fmt.Fprintln(w, token)
	}
	return err
}
