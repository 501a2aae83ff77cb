// Package config は各サービス共通の設定読み込みを提供する。
//
// YAMLファイル（任意）と環境変数から設定を読み込む。環境変数は EVENTGATE_ プレフィックスで
// 指定し、キーの "." は "_" に置き換える（例: EVENTGATE_BROKER_TOPIC）。
// 従来の環境変数名（PORT, JWT_SECRET など）も引き続き受け付ける。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nao1215/eventgate/pkg/logger"
)

// Config はサービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// Log はロガーの設定。
	Log logger.Config `mapstructure:"log"`
	// Auth はトークン署名の設定。
	Auth AuthConfig `mapstructure:"auth"`
	// Gateway はAPI Gatewayの設定。
	Gateway GatewayConfig `mapstructure:"gateway"`
	// Broker はメッセージブローカーの設定。
	Broker BrokerConfig `mapstructure:"broker"`
	// Database はSQLiteデータベースの設定。
	Database DatabaseConfig `mapstructure:"database"`
}

// AuthConfig はBearerトークンの署名設定。
type AuthConfig struct {
	// Secret は署名用の共有秘密鍵。
	Secret string `mapstructure:"secret"`
	// Algorithm は署名アルゴリズム（HS256, HS384, HS512）。
	Algorithm string `mapstructure:"algorithm"`
	// TTL は発行するトークンの有効期間。
	TTL time.Duration `mapstructure:"ttl"`
}

// GatewayConfig はAPI Gatewayの設定。
type GatewayConfig struct {
	// Routes は論理サービス名からベースURLへの静的マッピング。
	Routes map[string]string `mapstructure:"routes"`
	// PublicPaths は認証不要とするパスのサフィックス。
	PublicPaths []string `mapstructure:"public_paths"`
	// UpstreamTimeout はバックエンド呼び出しのタイムアウト。
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	// CORSOrigins はクロスオリジンを許可するオリジン。
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// BrokerConfig はKafka互換ブローカーの設定。
type BrokerConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	GroupID         string        `mapstructure:"group_id"`
	ClientID        string        `mapstructure:"client_id"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	// MaxFetchErrors は連続したフェッチエラーがこの回数に達するとコンシュームループを終了する。
	MaxFetchErrors  int  `mapstructure:"max_fetch_errors"`
	AutoCreateTopic bool `mapstructure:"auto_create_topic"`
	Partitions      int  `mapstructure:"partitions"`
	Replication     int  `mapstructure:"replication"`
}

// DatabaseConfig はSQLiteデータベースの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。
	Path string `mapstructure:"path"`
}

// defaults はサービス名ごとの既定値を返す。
func defaults(service string) map[string]any {
	port := map[string]string{
		"gateway":      "8000",
		"user":         "8001",
		"notification": "8002",
	}[service]
	if port == "" {
		port = "8080"
	}

	return map[string]any{
		"port":                     port,
		"log.level":                "info",
		"log.format":               "console",
		"log.outputs":              []string{"stdout"},
		"auth.secret":              "dev-secret-key",
		"auth.algorithm":           "HS256",
		"auth.ttl":                 60 * time.Minute,
		"gateway.routes":           map[string]string{"user": "http://localhost:8001", "notification": "http://localhost:8002"},
		"gateway.public_paths":     []string{"/login", "/signup", "/public", "/health"},
		"gateway.upstream_timeout": 30 * time.Second,
		"gateway.cors_origins":     []string{"http://localhost:3000"},
		"broker.brokers":           []string{"localhost:9092"},
		"broker.topic":             "notification",
		"broker.group_id":          "notification-service",
		"broker.client_id":         service + "-service",
		"broker.dial_timeout":      10 * time.Second,
		"broker.delivery_timeout":  10 * time.Second,
		"broker.max_fetch_errors":  10,
		"broker.partitions":        3,
		"broker.replication":       1,
		"database.path":            "/data/" + service + ".db",
	}
}

// legacyEnv は従来から使われている環境変数名と設定キーの対応。
var legacyEnv = map[string]string{
	"port":                        "PORT",
	"auth.secret":                 "JWT_SECRET",
	"auth.algorithm":              "JWT_ALGORITHM",
	"broker.brokers":              "KAFKA_BOOTSTRAP_SERVERS",
	"gateway.routes.user":         "USER_SERVICE_URL",
	"gateway.routes.notification": "NOTIFICATION_SERVICE_URL",
}

// Load は設定を読み込む。pathが空の場合は既定値と環境変数のみを使う。
func Load(service, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("eventgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults(service) {
		v.SetDefault(key, value)
	}
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "EVENTGATE_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env); err != nil {
			return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	// 環境変数ではカンマ区切りで複数指定される
	cfg.Broker.Brokers = splitList(cfg.Broker.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。問題はすべてまとめて返す。
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret は必須です"))
	}
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm %q はサポートされていません", c.Auth.Algorithm))
	}
	if c.Broker.Topic == "" {
		errs = append(errs, errors.New("broker.topic は必須です"))
	}
	if c.Broker.GroupID == "" {
		errs = append(errs, errors.New("broker.group_id は必須です"))
	}
	if len(c.Broker.Brokers) == 0 {
		errs = append(errs, errors.New("broker.brokers は必須です"))
	}
	for name, raw := range c.Gateway.Routes {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("gateway.routes.%s のURL %q が不正です", name, raw))
		}
	}
	return errors.Join(errs...)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
