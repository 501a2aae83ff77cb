package user

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestStore は一時ディレクトリのSQLiteファイルでStoreを開く。
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(t.Context(), filepath.Join(t.TempDir(), "user.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("OpenStore()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newUser(username, email string) *User {
	now := time.Now().UTC()
	return &User{
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		Role:         RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStoreCreate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	alice := newUser("alice", "alice@example.com")
	if err := store.Create(t.Context(), alice); err != nil {
		t.Fatalf("Create()でエラーが発生: %v", err)
	}
	if alice.ID == 0 {
		t.Fatal("IDが採番されていません")
	}

	tests := []struct {
		name    string
		user    *User
		wantErr error
	}{
		{name: "ユーザー名の重複", user: newUser("alice", "other@example.com"), wantErr: ErrUsernameTaken},
		{name: "メールアドレスの重複", user: newUser("alice2", "alice@example.com"), wantErr: ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Create(t.Context(), tt.user); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := store.Get(t.Context(), alice.ID)
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}
	if got.Username != "alice" || got.Email != "alice@example.com" || !got.IsActive || got.Age != nil {
		t.Errorf("ユーザー: got %+v", got)
	}
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	alice := newUser("alice", "alice@example.com")
	bob := newUser("bob", "bob@example.com")
	for _, u := range []*User{alice, bob} {
		if err := store.Create(t.Context(), u); err != nil {
			t.Fatal(err)
		}
	}

	age := 30
	alice.Age = &age
	alice.Email = "alice@example.org"
	if err := store.Update(t.Context(), alice); err != nil {
		t.Fatalf("Update()でエラーが発生: %v", err)
	}
	got, err := store.Get(t.Context(), alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Age == nil || *got.Age != 30 || got.Email != "alice@example.org" {
		t.Errorf("ユーザー: got %+v", got)
	}

	alice.Username = "bob"
	if err := store.Update(t.Context(), alice); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("Update() = %v, want ErrUsernameTaken", err)
	}

	missing := newUser("carol", "carol@example.com")
	missing.ID = 999
	if err := store.Update(t.Context(), missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	alice := newUser("alice", "alice@example.com")
	if err := store.Create(t.Context(), alice); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.Delete(t.Context(), alice.ID)
	if err != nil {
		t.Fatalf("Delete()でエラーが発生: %v", err)
	}
	if deleted.Username != "alice" {
		t.Errorf("削除したユーザー: got %+v", deleted)
	}
	if _, err := store.Get(t.Context(), alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
	if _, err := store.Delete(t.Context(), alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() = %v, want ErrNotFound", err)
	}

	users, err := store.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Errorf("ユーザー数: got %d, want 0", len(users))
	}
}
