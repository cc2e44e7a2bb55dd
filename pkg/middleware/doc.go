// Package middleware はゲートウェイで使用する共通のGinミドルウェアを提供する。
//
// パニックリカバリ、リクエストID、アクセスログ、
// クッキーセッション向けのCORS設定を含む。
package middleware
