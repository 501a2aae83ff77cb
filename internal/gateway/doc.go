// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// すべてのリクエストを認証ゲートで検査した後、/api/{service}/{path} の service を
// 静的なルーティングテーブルで解決し、バックエンドへそのまま転送する。
// バックエンドが返したステータスとボディは変換せずに呼び出し元へ返す。
package gateway
