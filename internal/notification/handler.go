package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/eventgate/pkg/event"
)

// Repository はイベントハンドラが使う通知の永続化先。
type Repository interface {
	// Create は通知を保存する。同じイベントIDの通知が既にあれば false を返す。
	Create(ctx context.Context, n *Notification) (bool, error)
	// GetByEventID はイベントIDから通知を取得する。
	GetByEventID(ctx context.Context, eventID string) (*Notification, error)
	// UpdateDelivery は配信結果を保存する。
	UpdateDelivery(ctx context.Context, n *Notification) error
}

// EventHandler はユーザーイベントを通知に変換して配信する。
// broker.Handler を満たす。
type EventHandler struct {
	repo   Repository
	sender Sender
	logger *zap.Logger
	now    func() time.Time
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(repo Repository, sender Sender, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		repo:   repo,
		sender: sender,
		logger: logger.Named("event_handler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle はイベントを1件処理する。
// 同じイベントIDの通知が既に配信済みか配信失敗なら何もしない。
// 未配信のまま残っている通知は再送する。
func (h *EventHandler) Handle(ctx context.Context, e event.Event) error {
	n := h.build(e)
	if n == nil {
		h.logger.Debug("通知対象外のイベントです", zap.String("event_type", string(e.Meta().EventType)))
		return nil
	}
	if err := n.Validate(); err != nil {
		return err
	}

	created, err := h.repo.Create(ctx, n)
	if err != nil {
		return err
	}
	if !created {
		existing, err := h.repo.GetByEventID(ctx, n.EventID)
		if err != nil {
			return err
		}
		if existing.Status != StatusPending {
			h.logger.Info("処理済みのイベントのため通知を送信しません",
				zap.String("event_id", n.EventID), zap.String("status", string(existing.Status)))
			return nil
		}
		h.logger.Info("未配信の通知を再送します",
			zap.String("event_id", n.EventID), zap.String("notification_id", existing.ID))
		n = existing
	}
	return h.deliver(ctx, n)
}

// deliver は通知を送信し、結果を保存する。
func (h *EventHandler) deliver(ctx context.Context, n *Notification) error {
	if err := h.sender.Send(ctx, n); err != nil {
		n.MarkFailed(err.Error())
		if uerr := h.repo.UpdateDelivery(ctx, n); uerr != nil {
			h.logger.Error("配信失敗の記録に失敗しました", zap.String("notification_id", n.ID), zap.Error(uerr))
		}
		return fmt.Errorf("通知の送信に失敗: %w", err)
	}
	if err := n.MarkSent(h.now()); err != nil {
		return err
	}
	return h.repo.UpdateDelivery(ctx, n)
}

// build はイベントに対応する通知を組み立てる。通知対象外のイベントにはnilを返す。
func (h *EventHandler) build(e event.Event) *Notification {
	var (
		userID         int64
		email, subject string
		message        string
	)
	switch ev := e.(type) {
	case *event.UserCreated:
		userID, email = ev.UserID, ev.Email
		subject = "ご登録ありがとうございます"
		message = fmt.Sprintf("%sさん、ようこそ！アカウントの登録が完了しました。", ev.Username)
	case *event.UserDeleted:
		userID, email = ev.UserID, ev.Email
		subject = "退会手続きが完了しました"
		message = fmt.Sprintf("%sさん、これまでご利用いただきありがとうございました。", ev.Username)
	default:
		return nil
	}

	return &Notification{
		ID:        uuid.New().String(),
		EventID:   e.Meta().EventID,
		UserID:    strconv.FormatInt(userID, 10),
		Channel:   ChannelEmail,
		Recipient: email,
		Subject:   subject,
		Message:   message,
		Status:    StatusPending,
		CreatedAt: h.now(),
	}
}
