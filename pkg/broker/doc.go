// Package broker はKafka互換ブローカーとのイベント送受信を提供する。
//
// Producer はドメインイベントを同期的に送信し、ブローカーの確認応答を待ってから返る。
// Consumer はコンシュームループのライフサイクル（開始・停止）を所有し、
// 1メッセージの失敗がループ全体を止めないように隔離した上でハンドラへ配送する。
// Consumer はプロセス起動時に1度だけ生成し、呼び出し側が明示的に保持・受け渡す。
//
// 配信保証は at-least-once であり、ハンドラは同じイベントを複数回受け取りうる。
package broker
