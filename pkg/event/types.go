package event

import (
	"time"
)

// Type はイベントの種類を表す。エンベロープの event_type フィールドに対応する。
type Type string

const (
	// TypeUserCreated はユーザーが作成されたことを表す。
	TypeUserCreated Type = "user_created"
	// TypeUserDeleted はユーザーが削除されたことを表す。
	TypeUserDeleted Type = "user_deleted"
)

// Metadata はすべてのイベントが持つエンベロープ共通フィールド。
// JSONではイベント固有フィールドと同じ階層にフラットに展開される。
type Metadata struct {
	// EventType はイベントの種類。
	EventType Type `json:"event_type" validate:"required"`
	// EventID は論理的な発生ごとに一意なイベントID（UUID）。
	// ブローカーは重複配信しうるため、コンシューマはこのIDで冪等性を担保する。
	EventID string `json:"event_id" validate:"required"`
	// Timestamp はイベントの発生日時（UTC）。
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// Event はブローカーを流れるドメインイベントを表す。
// event_type をタグとする判別共用体であり、具体型は本パッケージ内の型に限られる。
type Event interface {
	// Meta はエンベロープ共通フィールドを返す。
	Meta() Metadata
	sealed()
}

// Meta はエンベロープ共通フィールドを返す。
func (m Metadata) Meta() Metadata { return m }

func (Metadata) sealed() {}

// UserCreated は user_created イベント。
type UserCreated struct {
	Metadata
	// UserID は作成されたユーザーのID。
	UserID int64 `json:"user_id" validate:"required"`
	// Username はユーザー名。
	Username string `json:"username" validate:"required"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email" validate:"required"`
}

// UserDeleted は user_deleted イベント。
type UserDeleted struct {
	Metadata
	// UserID は削除されたユーザーのID。
	UserID int64 `json:"user_id" validate:"required"`
	// Username は削除時点のユーザー名。
	Username string `json:"username" validate:"required"`
	// Email は削除時点のメールアドレス。
	Email string `json:"email" validate:"required"`
}

// Unknown は本パッケージが知らない event_type のイベント。
// コンシューマはこれを処理対象外としてスキップする。
type Unknown struct {
	Metadata
	// Raw は受信したペイロードそのもの。
	Raw []byte `json:"-"`
}
