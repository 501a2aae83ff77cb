package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestExtractToken はAuthorizationヘッダーからのトークン抽出を検証する。
func TestExtractToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "Bearerスキーム付き", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "スキームなし", header: "abc.def.ghi", want: "abc.def.ghi"},
		{name: "スキームのみ", header: "Bearer ", want: ""},
		{name: "空文字列", header: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractToken(tt.header); got != tt.want {
				t.Errorf("ExtractToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

// TestIsPublicPath は公開パスの後方一致判定を検証する。
func TestIsPublicPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{path: "/health", want: true},
		{path: "/api/user/login", want: true},
		{path: "/api/user/signup", want: true},
		{path: "/api/notification/public", want: true},
		{path: "/login/extra", want: false},
		{path: "/api/user/42", want: false},
		{path: "/api/user/relogin", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := IsPublicPath(tt.path, DefaultPublicPaths); got != tt.want {
				t.Errorf("IsPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

// newGateRouter は認証ゲートと到達確認用ハンドラを持つルーターを生成する。
// reachedは後段のハンドラが呼ばれた回数を数える。
func newGateRouter(t *testing.T, reached *int) *gin.Engine {
	t.Helper()

	router := gin.New()
	router.Use(ErrorResponder(zap.NewNop()))
	router.Use(AuthGate(newTestValidator(t), DefaultPublicPaths))
	router.Any("/*path", func(c *gin.Context) {
		*reached++
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c)})
	})
	return router
}

// TestAuthGate はAuthGateミドルウェアを検証する。
func TestAuthGate(t *testing.T) {
	t.Parallel()

	validToken, err := GenerateJWT(testSigning, "user-123", "alice")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		header      string
		wantStatus  int
		wantReached bool
		wantError   string
	}{
		{name: "Bearerトークンで通過すること", path: "/api/user/42", header: "Bearer " + validToken, wantStatus: http.StatusOK, wantReached: true},
		{name: "スキームなしのトークンで通過すること", path: "/api/user/42", header: validToken, wantStatus: http.StatusOK, wantReached: true},
		{name: "ヘッダーなしは401でMissingCredential", path: "/api/user/42", wantStatus: http.StatusUnauthorized, wantError: ErrMissingCredential.Error()},
		{name: "空トークンは401でMissingCredential", path: "/api/user/42", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantError: ErrMissingCredential.Error()},
		{name: "不正トークンは401でInvalidCredential", path: "/api/user/42", header: "Bearer invalid", wantStatus: http.StatusUnauthorized, wantError: ErrInvalidCredential.Error()},
		{name: "公開パスはヘッダーなしで通過すること", path: "/api/user/login", wantStatus: http.StatusOK, wantReached: true},
		{name: "公開パスは不正トークンでも検証しないこと", path: "/health", header: "Bearer invalid", wantStatus: http.StatusOK, wantReached: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reached := 0
			router := newGateRouter(t, &reached)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if (reached > 0) != tt.wantReached {
				t.Errorf("後段への到達 = %v, want %v", reached > 0, tt.wantReached)
			}
			if tt.wantError != "" {
				var body map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
					t.Fatalf("レスポンスボディのパースに失敗: %v", err)
				}
				if body["error"] != tt.wantError {
					t.Errorf("error = %q, want %q", body["error"], tt.wantError)
				}
			}
		})
	}
}

// TestAuthenticate は公開パスで検証自体が行われないことを検証する。
func TestAuthenticate(t *testing.T) {
	t.Parallel()

	// nilのValidatorで呼べば、検証が行われた場合にパニックする
	claims, err := Authenticate(nil, DefaultPublicPaths, "/api/user/signup", "Bearer garbage")
	if err != nil || claims != nil {
		t.Errorf("Authenticate() = (%v, %v), want (nil, nil)", claims, err)
	}

	_, err = Authenticate(nil, DefaultPublicPaths, "/api/user/42", "")
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Authenticate() error = %v, want ErrMissingCredential", err)
	}
}
