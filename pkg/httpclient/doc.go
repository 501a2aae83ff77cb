// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// API Gatewayがバックエンドサービスへリクエストを転送する際に使用する。
// 1リクエストにつき1往復だけ通信し、リトライは行わない。バックエンドが返した
// ステータスコードはエラーに変換せず、そのまま呼び出し側に返す。
package httpclient
