package accessgate

import "errors"

// Outcome はリクエストごとに1つだけ決まる判定結果。
type Outcome int

const (
	// OutcomePublic は公開パスとしてそのまま通過させる。
	OutcomePublic Outcome = iota + 1
	// OutcomeUnauthenticated はトークンが無くログインへリダイレクトする。
	OutcomeUnauthenticated
	// OutcomeInvalidToken はトークン検証に失敗し、クッキーを削除してログインへリダイレクトする。
	OutcomeInvalidToken
	// OutcomeNoProfile はプロファイル未選択でプロファイル選択画面へリダイレクトする。
	OutcomeNoProfile
	// OutcomeUnauthorized は管理パスへの権限が無くブラウズ画面へリダイレクトする。
	OutcomeUnauthorized
	// OutcomeUnsubscribed はサブスクリプションが無効でサブスクリプション画面へリダイレクトする。
	OutcomeUnsubscribed
	// OutcomeRateLimited はAPIのリクエスト数が閾値を超え429で拒否する。
	OutcomeRateLimited
	// OutcomeAuthorized は識別ヘッダーを付けて転送する。
	OutcomeAuthorized
)

// String はログ出力用の名前を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomePublic:
		return "public"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeInvalidToken:
		return "invalid_token"
	case OutcomeNoProfile:
		return "no_profile"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeUnsubscribed:
		return "unsubscribed"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// IsRedirect はリダイレクトで終わる判定かを返す。
func (o Outcome) IsRedirect() bool {
	switch o {
	case OutcomeUnauthenticated, OutcomeInvalidToken, OutcomeNoProfile, OutcomeUnauthorized, OutcomeUnsubscribed:
		return true
	default:
		return false
	}
}

// 判定理由。ゲートの外へは伝播せず、ログにのみ出力する。
var (
	ErrNoSession            = errors.New("セッションがありません")
	ErrInvalidSession       = errors.New("セッションが無効です")
	ErrIncompleteSession    = errors.New("プロファイルが選択されていません")
	ErrForbidden            = errors.New("管理者権限が必要です")
	ErrSubscriptionRequired = errors.New("有効なサブスクリプションが必要です")
	ErrRateLimited          = errors.New("レートリミットを超えました")
)
