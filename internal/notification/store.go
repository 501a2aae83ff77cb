package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/eventgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound は通知が存在しないことを表す。
var ErrNotFound = errors.New("通知が見つかりません")

// Store はSQLiteに通知を保存する。
type Store struct {
	db *sqlx.DB
}

// OpenStore はSQLiteデータベースを開き、マイグレーションを適用する。
func OpenStore(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteの書き込みは直列化する
	db.SetMaxOpenConns(1)

	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Create は通知を保存する。同じイベントIDの通知が既にある場合は保存せず false を返す。
func (s *Store) Create(ctx context.Context, n *Notification) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications
			(id, event_id, user_id, channel, recipient, subject, message, status, is_read, error, created_at, sent_at)
		VALUES
			(:id, :event_id, :user_id, :channel, :recipient, :subject, :message, :status, :is_read, :error, :created_at, :sent_at)
		ON CONFLICT(event_id) DO NOTHING`, n)
	if err != nil {
		return false, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("通知の保存結果の取得に失敗: %w", err)
	}
	return affected > 0, nil
}

// UpdateDelivery は配信状態・エラー・配信日時を更新する。
func (s *Store) UpdateDelivery(ctx context.Context, n *Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE notifications SET status = :status, error = :error, sent_at = :sent_at
		WHERE id = :id`, n)
	if err != nil {
		return fmt.Errorf("配信状態の更新に失敗: %w", err)
	}
	return nil
}

// Get はIDで通知を取得する。
func (s *Store) Get(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, `SELECT * FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// GetByEventID はイベントIDから通知を取得する。
func (s *Store) GetByEventID(ctx context.Context, eventID string) (*Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, `SELECT * FROM notifications WHERE event_id = ?`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// ListByUser はユーザーの通知を新しい順に返す。
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Notification, error) {
	notifications := []Notification{}
	if err := s.db.SelectContext(ctx, &notifications,
		`SELECT * FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id`, userID); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, userID string) ([]Notification, error) {
	notifications := []Notification{}
	if err := s.db.SelectContext(ctx, &notifications,
		`SELECT * FROM notifications WHERE user_id = ? AND is_read = 0 ORDER BY created_at DESC, id`, userID); err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// MarkAsRead は通知を既読にする。
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllAsRead はユーザーの全通知を既読にし、更新した件数を返す。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return res.RowsAffected()
}
