// Package accessgate はすべての受信リクエストに対するアクセス判定を提供する。
//
// リクエストごとに、公開パスの通過・ログインへのリダイレクト・
// プロファイル選択やサブスクリプション画面へのリダイレクト・
// APIのレートリミット拒否・識別ヘッダー付きの転送のいずれか1つを決める。
// 判定はリクエストと静的な設定だけから決まり、リクエスト間で状態を共有しない。
package accessgate
