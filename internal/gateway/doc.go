// Package gateway はエッジゲートウェイのHTTPサーバーを提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。すべてのリクエストをアクセスゲートで判定し、通過したものだけを
// 識別ヘッダー付きで上流のWebアプリケーションへ転送する。
package gateway
