package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential はBearerトークンが提示されていないことを表す。
	ErrMissingCredential = errors.New("Authorizationヘッダーが必要です")
	// ErrInvalidCredential はトークンが不正、署名不一致、または期限切れであることを表す。
	// 原因の違いは診断用にラップしたエラーにのみ残し、呼び出し側には同じ結果として見せる。
	ErrInvalidCredential = errors.New("トークンが無効または期限切れです")
)

// Claims はBearerトークンのクレーム（ペイロード）を表す。
// Subject にユーザーIDを格納する。
type Claims struct {
	jwt.RegisteredClaims
	// Username はユーザー名。
	Username string `json:"username,omitempty"`
}

// SigningConfig はトークンの署名設定。
type SigningConfig struct {
	// Secret は署名用の共有秘密鍵。
	Secret string
	// Algorithm は署名アルゴリズム名（HS256, HS384, HS512）。
	Algorithm string
	// TTL は発行するトークンの有効期間。0の場合は1時間。
	TTL time.Duration
}

// tokenIssuer はトークンの発行者名。
const tokenIssuer = "eventgate"

// signingMethod は設定されたアルゴリズムに対応するHMAC署名方式を返す。
func (c SigningConfig) signingMethod() (*jwt.SigningMethodHMAC, error) {
	alg := c.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("署名アルゴリズム %q はサポートされていません", alg)
	}
	return m, nil
}

// GenerateJWT はユーザー情報から署名済みトークンを生成する。
// ユーザーサービスがログイン成功時に呼び出す。
func GenerateJWT(cfg SigningConfig, userID, username string) (string, error) {
	method, err := cfg.signingMethod()
	if err != nil {
		return "", err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		Username: username,
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Validator は共有秘密鍵とアルゴリズムの組でトークンを検証する。
// I/Oを伴わない純粋な検証であり、並行利用に安全。
type Validator struct {
	key    []byte
	parser *jwt.Parser
}

// NewValidator は署名設定からValidatorを生成する。
func NewValidator(cfg SigningConfig) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("署名用の秘密鍵が空です")
	}
	method, err := cfg.signingMethod()
	if err != nil {
		return nil, err
	}
	return &Validator{
		key: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Validate はトークンを検証し、クレームを返す。
// 空文字列は ErrMissingCredential、それ以外の失敗はすべて ErrInvalidCredential をラップして返す。
// 不正な入力に対してパニックすることはない。
func (v *Validator) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// Valid はトークンが有効かどうかだけを返す。
func (v *Validator) Valid(token string) bool {
	_, err := v.Validate(token)
	return err == nil
}
