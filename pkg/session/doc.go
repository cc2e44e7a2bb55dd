// Package session はセッショントークン（JWT）のクレーム定義と検証を提供する。
//
// トークンは外部の認証APIが発行し、ブラウザの "token" クッキーで運ばれる。
// ゲートウェイは検証のみを行い、トークンを発行しない。
// 開発用トークンの発行は cmd/devtoken からのみ利用する。
package session
