package notification

import (
	"context"

	"go.uber.org/zap"
)

// Sender は通知を配信チャネルに送る。
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// LogSender は配信内容を構造化ログに出力するだけの送信者。
// 実際のメール・SMS・プッシュ配信基盤に接続するまでの代替として使う。
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("sender")}
}

// Send は通知内容をログに出力する。
func (s *LogSender) Send(_ context.Context, n *Notification) error {
	s.logger.Info("通知を送信しました",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("message", n.Message),
	)
	return nil
}
