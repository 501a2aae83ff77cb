package user

import (
	"errors"
	"time"
)

// Role はユーザーのロール。
type Role string

const (
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleGuest はゲスト。
	RoleGuest Role = "guest"
)

var (
	// ErrNotFound はユーザーが存在しないことを表す。
	ErrNotFound = errors.New("ユーザーが見つかりません")
	// ErrUsernameTaken はユーザー名が既に使われていることを表す。
	ErrUsernameTaken = errors.New("ユーザー名は既に使用されています")
	// ErrEmailTaken はメールアドレスが既に使われていることを表す。
	ErrEmailTaken = errors.New("メールアドレスは既に使用されています")
)

// User は登録済みユーザー。
type User struct {
	// ID はユーザーの一意識別子。
	ID int64 `db:"id" json:"id"`
	// Username はユーザー名。
	Username string `db:"username" json:"username"`
	// Email はメールアドレス。
	Email string `db:"email" json:"email"`
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string `db:"password_hash" json:"-"`
	// Role はロール。
	Role Role `db:"role" json:"role"`
	// Age は年齢。未設定の場合はnil。
	Age *int `db:"age" json:"age"`
	// FullName は氏名。未設定の場合はnil。
	FullName *string `db:"full_name" json:"full_name"`
	// IsActive は有効なアカウントか。
	IsActive bool `db:"is_active" json:"is_active"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
