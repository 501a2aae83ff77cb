package user

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

// Store はSQLiteにユーザーを保存する。
type Store struct {
	db *sqlx.DB
}

// OpenStore はSQLiteデータベースを開き、マイグレーションを適用する。
func OpenStore(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 一意性の確認と挿入の間に他の書き込みが入らないよう接続を1本にする
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

// Create はユーザーを保存し、採番されたIDを u.ID に設定する。
// ユーザー名またはメールアドレスが重複する場合は ErrUsernameTaken / ErrEmailTaken を返す。
func (s *Store) Create(ctx context.Context, u *User) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := checkUnique(ctx, tx, u.Username, u.Email, 0); err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO users
				(username, email, password_hash, role, age, full_name, is_active, created_at, updated_at)
			VALUES
				(:username, :email, :password_hash, :role, :age, :full_name, :is_active, :created_at, :updated_at)`, u)
		if err != nil {
			return fmt.Errorf("ユーザーの保存に失敗: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("ユーザーIDの取得に失敗: %w", err)
		}
		u.ID = id
		return nil
	})
}

// Update はユーザーのプロフィールを更新する。
func (s *Store) Update(ctx context.Context, u *User) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := checkUnique(ctx, tx, u.Username, u.Email, u.ID); err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, `
			UPDATE users SET username = :username, email = :email, age = :age, full_name = :full_name, updated_at = :updated_at
			WHERE id = :id`, u)
		if err != nil {
			return fmt.Errorf("ユーザーの更新に失敗: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Get はIDでユーザーを取得する。
func (s *Store) Get(ctx context.Context, id int64) (*User, error) {
	return s.getBy(ctx, `SELECT * FROM users WHERE id = ?`, id)
}

// GetByUsername はユーザー名でユーザーを取得する。
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getBy(ctx, `SELECT * FROM users WHERE username = ?`, username)
}

// List は全ユーザーをID順に返す。
func (s *Store) List(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	return users, nil
}

// Delete はユーザーを削除し、削除前のユーザーを返す。
func (s *Store) Delete(ctx context.Context, id int64) (*User, error) {
	var deleted *User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var u User
		if err := tx.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ユーザーの取得に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("ユーザーの削除に失敗: %w", err)
		}
		deleted = &u
		return nil
	})
	return deleted, err
}

func (s *Store) getBy(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return &u, nil
}

// inTx はトランザクション内でfnを実行し、エラーがなければコミットする。
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

// checkUnique はユーザー名とメールアドレスが excludeID 以外のユーザーに使われていないか確認する。
func checkUnique(ctx context.Context, tx *sqlx.Tx, username, email string, excludeID int64) error {
	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE username = ? AND id != ?`, username, excludeID); err != nil {
		return fmt.Errorf("ユーザー名の確認に失敗: %w", err)
	}
	if n > 0 {
		return ErrUsernameTaken
	}
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE email = ? AND id != ?`, email, excludeID); err != nil {
		return fmt.Errorf("メールアドレスの確認に失敗: %w", err)
	}
	if n > 0 {
		return ErrEmailTaken
	}
	return nil
}
