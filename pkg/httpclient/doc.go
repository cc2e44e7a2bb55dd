// Package httpclient は上流アプリケーションへのHTTP通信を行うクライアントを提供する。
//
// ゲートで検証済みの識別情報をコンテキストに載せると、送信する
// リクエストに x-user-id / x-user-role / x-profile-id ヘッダーとして
// 伝播する。受信リクエストに含まれていた同名ヘッダーは常に取り除く。
package httpclient
