package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultPublicPaths は認証を省略するパスのサフィックス。
var DefaultPublicPaths = []string{"/login", "/signup", "/public", "/health"}

// contextKeyClaims はGinコンテキストにクレームを格納するキー。
const contextKeyClaims = "auth_claims"

// IsPublicPath はパスが公開パスのいずれかで終わるかを返す。
// 前方一致ではなく後方一致で判定する（/api/user/login も公開扱いになる）。
func IsPublicPath(path string, publicPaths []string) bool {
	for _, p := range publicPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// ExtractToken はAuthorizationヘッダーの値からトークン部分を取り出す。
// "Bearer <token>" とスキームなしのトークンの両方を受け付ける。
func ExtractToken(header string) string {
	if _, token, found := strings.Cut(header, " "); found {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(header)
}

// Authenticate はリクエストのパスとAuthorizationヘッダーから認証結果を判定する。
// 公開パスの場合は (nil, nil) を返し、トークンは一切検証しない。
func Authenticate(v *Validator, publicPaths []string, path, authHeader string) (*Claims, error) {
	if IsPublicPath(path, publicPaths) {
		return nil, nil
	}
	if strings.TrimSpace(authHeader) == "" {
		return nil, ErrMissingCredential
	}
	return v.Validate(ExtractToken(authHeader))
}

// AuthGate はすべてのリクエストを後段より先に検査するGinミドルウェアを返す。
// 拒否した場合はエラーをコンテキストに記録して処理を打ち切る。ステータスコードへの変換は
// 最外層のエラーレスポンダが行う。リクエスト自体は変更しない。
func AuthGate(v *Validator, publicPaths []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := Authenticate(v, publicPaths, c.Request.URL.Path, c.GetHeader("Authorization"))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		if claims != nil {
			c.Set(contextKeyClaims, claims)
		}
		c.Next()
	}
}

// GetClaims はGinコンテキストから認証済みクレームを取得する。
// 公開パスや未認証の場合はnilを返す。
func GetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// GetUserID はGinコンテキストから認証済みユーザーのIDを取得する。
func GetUserID(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Subject
	}
	return ""
}
