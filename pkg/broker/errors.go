package broker

import "errors"

var (
	// ErrBrokerConnection はブローカーに接続できない、またはコンシュームを継続できないことを表す。
	ErrBrokerConnection = errors.New("ブローカーとの接続に失敗しました")
	// ErrDelivery はブローカーがメッセージの受け取りを確認しなかったことを表す。
	ErrDelivery = errors.New("メッセージの配信に失敗しました")
	// ErrHandler はイベントハンドラが1件のイベントの処理に失敗したことを表す。
	ErrHandler = errors.New("イベントの処理に失敗しました")
)
