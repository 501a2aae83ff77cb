package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSigning はテスト用の署名設定。
var testSigning = SigningConfig{Secret: "test-secret-key-for-unit-tests", Algorithm: "HS256", TTL: time.Hour}

// newTestValidator はテスト用のValidatorを生成する。
func newTestValidator(t *testing.T) *Validator {
	t.Helper()

	v, err := NewValidator(testSigning)
	if err != nil {
		t.Fatalf("NewValidator()でエラーが発生: %v", err)
	}
	return v
}

// signClaims は任意のクレームと署名方式でトークンを生成する。
func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("テスト用トークンの署名に失敗: %v", err)
	}
	return token
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("生成したトークンのクレームが正しいこと", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		token, err := GenerateJWT(testSigning, "42", "alice")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := newTestValidator(t).Validate(token)
		if err != nil {
			t.Fatalf("Validate()でエラーが発生: %v", err)
		}
		if claims.Subject != "42" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "42")
		}
		if claims.Username != "alice" {
			t.Errorf("Username = %q, want %q", claims.Username, "alice")
		}
		if claims.Issuer != tokenIssuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, tokenIssuer)
		}
		// 有効期限がTTL後の前後1分以内であること
		want := before.Add(time.Hour)
		if d := claims.ExpiresAt.Time.Sub(want); d < -time.Minute || d > time.Minute {
			t.Errorf("ExpiresAt = %v, want 約 %v", claims.ExpiresAt.Time, want)
		}
	})

	t.Run("設定したアルゴリズムで署名されること", func(t *testing.T) {
		t.Parallel()

		cfg := testSigning
		cfg.Algorithm = "HS512"
		token, err := GenerateJWT(cfg, "1", "bob")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		parsed, _, err := new(jwt.Parser).ParseUnverified(token, &Claims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if parsed.Method.Alg() != "HS512" {
			t.Errorf("署名アルゴリズム = %q, want %q", parsed.Method.Alg(), "HS512")
		}
	})

	t.Run("非対応のアルゴリズムはエラーになること", func(t *testing.T) {
		t.Parallel()

		cfg := testSigning
		cfg.Algorithm = "RS256"
		if _, err := GenerateJWT(cfg, "1", "bob"); err == nil {
			t.Error("RS256ではエラーを返すべき")
		}
	})
}

// TestValidatorValidate はValidatorの分類を検証する。
func TestValidatorValidate(t *testing.T) {
	t.Parallel()

	v := newTestValidator(t)
	key := []byte(testSigning.Secret)

	expired := signClaims(t, jwt.SigningMethodHS256, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	noExpiry := signClaims(t, jwt.SigningMethodHS256, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1"},
	})
	wrongSecret := signClaims(t, jwt.SigningMethodHS256, []byte("wrong-secret"), Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	otherAlg := signClaims(t, jwt.SigningMethodHS384, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "空文字列はMissingCredential", token: "", wantErr: ErrMissingCredential},
		{name: "不正な形式はInvalidCredential", token: "not-a-jwt", wantErr: ErrInvalidCredential},
		{name: "期限切れはInvalidCredential", token: expired, wantErr: ErrInvalidCredential},
		{name: "有効期限なしはInvalidCredential", token: noExpiry, wantErr: ErrInvalidCredential},
		{name: "署名不一致はInvalidCredential", token: wrongSecret, wantErr: ErrInvalidCredential},
		{name: "別アルゴリズムはInvalidCredential", token: otherAlg, wantErr: ErrInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := v.Validate(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if v.Valid(tt.token) {
				t.Error("Valid() = true, want false")
			}
		})
	}
}

// TestNewValidator は不正な設定でValidatorを生成できないことを検証する。
func TestNewValidator(t *testing.T) {
	t.Parallel()

	if _, err := NewValidator(SigningConfig{Secret: "", Algorithm: "HS256"}); err == nil {
		t.Error("秘密鍵が空の場合はエラーを返すべき")
	}
	if _, err := NewValidator(SigningConfig{Secret: "s", Algorithm: "none"}); err == nil {
		t.Error("非対応のアルゴリズムはエラーを返すべき")
	}
}
