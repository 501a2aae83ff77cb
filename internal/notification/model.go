package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Channel は通知の配信チャネル。
type Channel string

const (
	// ChannelEmail はメール。
	ChannelEmail Channel = "EMAIL"
	// ChannelSMS はSMS。
	ChannelSMS Channel = "SMS"
	// ChannelPush はプッシュ通知。
	ChannelPush Channel = "PUSH"
)

// Status は通知の配信状態。
type Status string

const (
	// StatusPending は未配信。
	StatusPending Status = "pending"
	// StatusSent は配信済み。
	StatusSent Status = "sent"
	// StatusFailed は配信失敗。
	StatusFailed Status = "failed"
)

// smsMaxLength はSMS本文の最大文字数。
const smsMaxLength = 160

var (
	// ErrInvalidNotification は通知がチャネルごとの要件を満たしていないことを表す。
	ErrInvalidNotification = errors.New("通知の内容が不正です")
	// ErrInvalidTransition は配信状態を遷移できないことを表す。
	ErrInvalidTransition = errors.New("通知の状態を変更できません")
)

// Notification は1件の通知。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `db:"id" json:"id"`
	// EventID は通知の元になったイベントのID。
	EventID string `db:"event_id" json:"event_id"`
	// UserID は通知先のユーザーID。
	UserID string `db:"user_id" json:"user_id"`
	// Channel は配信チャネル。
	Channel Channel `db:"channel" json:"channel"`
	// Recipient は宛先。
	Recipient string `db:"recipient" json:"recipient"`
	// Subject は件名。プッシュ通知ではタイトル。
	Subject string `db:"subject" json:"subject"`
	// Message は本文。
	Message string `db:"message" json:"message"`
	// Status は配信状態。
	Status Status `db:"status" json:"status"`
	// IsRead は既読状態。
	IsRead bool `db:"is_read" json:"is_read"`
	// Error は配信失敗時のエラーメッセージ。
	Error string `db:"error" json:"error,omitempty"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	// SentAt は配信日時。未配信の場合はnil。
	SentAt *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// Validate はチャネルごとの要件を検証する。
func (n *Notification) Validate() error {
	if n.Message == "" || n.Recipient == "" {
		return fmt.Errorf("%w: 宛先と本文は必須です", ErrInvalidNotification)
	}

	switch n.Channel {
	case ChannelEmail:
		if n.Subject == "" {
			return fmt.Errorf("%w: メールには件名が必要です", ErrInvalidNotification)
		}
		_, domain, ok := strings.Cut(n.Recipient, "@")
		if !ok || !strings.Contains(domain, ".") {
			return fmt.Errorf("%w: メールアドレス %q が不正です", ErrInvalidNotification, n.Recipient)
		}
	case ChannelSMS:
		if !strings.HasPrefix(n.Recipient, "+") {
			return fmt.Errorf("%w: 電話番号は+から始まる必要があります", ErrInvalidNotification)
		}
		if utf8.RuneCountInString(n.Message) > smsMaxLength {
			return fmt.Errorf("%w: SMSの本文は%d文字以内です", ErrInvalidNotification, smsMaxLength)
		}
	case ChannelPush:
		if n.Subject == "" {
			return fmt.Errorf("%w: プッシュ通知にはタイトルが必要です", ErrInvalidNotification)
		}
	default:
		return fmt.Errorf("%w: 不明なチャネル %q", ErrInvalidNotification, n.Channel)
	}
	return nil
}

// MarkSent は未配信の通知を配信済みにする。
func (n *Notification) MarkSent(at time.Time) error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: 現在の状態は %s です", ErrInvalidTransition, n.Status)
	}
	n.Status = StatusSent
	n.SentAt = &at
	n.Error = ""
	return nil
}

// MarkFailed は通知を配信失敗にする。
func (n *Notification) MarkFailed(reason string) {
	n.Status = StatusFailed
	n.Error = reason
}
