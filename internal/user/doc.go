// Package user はユーザーサービスの内部実装を提供する。
//
// ユーザーの登録・ログイン・参照・更新・削除をHTTP APIで提供する。
// 登録と削除が成功すると user_created / user_deleted イベントをブローカーに発行する。
// イベントの発行に失敗してもリクエスト自体は成功として扱い、失敗はログに残す。
package user
