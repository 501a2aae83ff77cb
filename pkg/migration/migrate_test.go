package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// openTestDB はテスト用の一時SQLiteデータベースを開く。
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testFS はテスト用のマイグレーションファイル群。
var testFS = fstest.MapFS{
	"migrations/000002_add_email.up.sql":      {Data: []byte(`ALTER TABLE items ADD COLUMN email TEXT NOT NULL DEFAULT '';`)},
	"migrations/000001_create_items.up.sql":   {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`)},
	"migrations/000001_create_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
	"migrations/README.md":                    {Data: []byte(`ignored`)},
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("バージョン順に適用されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		if err := Run(context.Background(), db, testFS, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		if _, err := db.Exec(`INSERT INTO items (name, email) VALUES ('a', 'a@example.com')`); err != nil {
			t.Errorf("マイグレーション後のテーブルに挿入できない: %v", err)
		}

		var versions []int
		if err := db.Select(&versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
			t.Fatalf("バージョン取得に失敗: %v", err)
		}
		if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
			t.Errorf("適用済みバージョン = %v, want [1 2]", versions)
		}
	})

	t.Run("2回実行しても適用済みはスキップされること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		for i := range 2 {
			if err := Run(context.Background(), db, testFS, "migrations", zap.NewNop()); err != nil {
				t.Fatalf("%d回目のRun()でエラーが発生: %v", i+1, err)
			}
		}
	})

	t.Run("SQLが不正な場合はエラーになり記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		broken := fstest.MapFS{
			"migrations/000001_broken.up.sql": {Data: []byte(`CREATE TABLE;`)},
		}
		if err := Run(context.Background(), db, broken, "migrations", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}

		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("件数取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録件数 = %d, want 0", count)
		}
	})
}

// TestLoad はマイグレーションファイルの読み込みを検証する。
func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("upファイルだけがバージョン順に読み込まれること", func(t *testing.T) {
		t.Parallel()

		got, err := Load(testFS, "migrations")
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("件数 = %d, want 2", len(got))
		}
		if got[0].Version != 1 || got[0].Name != "create_items" || got[1].Version != 2 || got[1].Name != "add_email" {
			t.Errorf("Load() = %+v", got)
		}
		if got[0].SQL == "" {
			t.Error("SQLが読み込まれていない")
		}
	})

	tests := []struct {
		name string
		fsys fstest.MapFS
		want error
	}{
		{
			name: "バージョンが数値でない場合はエラーになること",
			fsys: fstest.MapFS{"migrations/first_create.up.sql": {Data: []byte(`SELECT 1;`)}},
			want: ErrInvalidFileName,
		},
		{
			name: "名前がない場合はエラーになること",
			fsys: fstest.MapFS{"migrations/000001.up.sql": {Data: []byte(`SELECT 1;`)}},
			want: ErrInvalidFileName,
		},
		{
			name: "バージョンが重複している場合はエラーになること",
			fsys: fstest.MapFS{
				"migrations/000001_a.up.sql": {Data: []byte(`SELECT 1;`)},
				"migrations/1_b.up.sql":      {Data: []byte(`SELECT 2;`)},
			},
			want: ErrDuplicateVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(tt.fsys, "migrations"); !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}
}
