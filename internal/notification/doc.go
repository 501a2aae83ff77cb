// Package notification は通知サービスの内部実装を提供する。
//
// ブローカーから受け取ったユーザーイベントを通知レコードに変換して保存し、
// 配信チャネル（ログ出力による送信）に渡して配信結果を記録する。
// 通知はイベントIDで一意になっており、同じイベントが再配信されても通知は1件しか作られない。
// 認証済みユーザーは自分宛ての通知の一覧取得と既読化をHTTP APIで行える。
package notification
