// Package migration はSQLiteデータベースのマイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、schema_migrationsテーブルで適用状態を追跡する。
package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const upSuffix = ".up.sql"

// ErrInvalidFileName はマイグレーションファイル名が 000001_name.up.sql 形式でないことを表す。
var ErrInvalidFileName = errors.New("マイグレーションファイル名が不正です")

// ErrDuplicateVersion は同じバージョンのファイルが複数あることを表す。
var ErrDuplicateVersion = errors.New("マイグレーションのバージョンが重複しています")

// Migration は1つのupマイグレーション。
type Migration struct {
	Version int    `db:"version"`
	Name    string `db:"name"`
	SQL     string `db:"-"`
}

// record はschema_migrationsの1行。
type record struct {
	Version int    `db:"version"`
	Name    string `db:"name"`
}

// Run はdir配下の *.up.sql をバージョン順に適用する。適用済みのバージョンは実行しない。
func Run(ctx context.Context, db *sqlx.DB, fsys fs.FS, dir string, logger *zap.Logger) error {
	migrations, err := Load(fsys, dir)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("schema_migrationsの作成に失敗: %w", err)
	}

	var done []record
	if err := db.SelectContext(ctx, &done, `SELECT version, name FROM schema_migrations`); err != nil {
		return fmt.Errorf("適用履歴の取得に失敗: %w", err)
	}
	skip := make(map[int]struct{}, len(done))
	for _, r := range done {
		skip[r.Version] = struct{}{}
	}

	for _, m := range migrations {
		if _, ok := skip[m.Version]; ok {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("%06d_%s: %w", m.Version, m.Name, err)
		}
		logger.Info("マイグレーションを適用しました", zap.Int("version", m.Version), zap.String("name", m.Name))
	}
	return nil
}

// Load はdir直下のupマイグレーションを読み込み、バージョン昇順で返す。
// .up.sql 以外のファイルは無視する。
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	paths, err := fs.Glob(fsys, path.Join(dir, "*"+upSuffix))
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイルの検索に失敗: %w", err)
	}

	migrations := make([]Migration, 0, len(paths))
	for _, p := range paths {
		m, err := parseFileName(path.Base(p))
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("%sの読み込みに失敗: %w", p, err)
		}
		m.SQL = string(body)
		migrations = append(migrations, m)
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("%w: %06d", ErrDuplicateVersion, migrations[i].Version)
		}
	}
	return migrations, nil
}

func parseFileName(name string) (Migration, error) {
	version, label, ok := strings.Cut(strings.TrimSuffix(name, upSuffix), "_")
	if !ok || label == "" {
		return Migration{}, fmt.Errorf("%w: %s", ErrInvalidFileName, name)
	}
	v, err := strconv.Atoi(version)
	if err != nil || v <= 0 {
		return Migration{}, fmt.Errorf("%w: %s", ErrInvalidFileName, name)
	}
	return Migration{Version: v, Name: label}, nil
}

// apply はSQLの実行と履歴の記録を1つのトランザクションで行う。
func apply(ctx context.Context, db *sqlx.DB, m Migration) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err = tx.NamedExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (:version, :name)`, m); err != nil {
		return fmt.Errorf("適用履歴の記録に失敗: %w", err)
	}
	return tx.Commit()
}
