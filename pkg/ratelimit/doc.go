// Package ratelimit はAPIリクエスト数を数える固定ウィンドウカウンターを提供する。
//
// カウンターはクライアント識別子（検証済みのユーザーID）ごとに加算され、
// ウィンドウ経過後にリセットされる。複数ノード構成ではRedis、
// 単一ノード構成ではSQLite、テストや開発ではメモリ実装を使う。
package ratelimit
