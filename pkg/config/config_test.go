package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults は設定ファイルも環境変数もない場合に既定値が使われることを検証する。
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("gateway", "")
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8000")
	}
	if cfg.Auth.Algorithm != "HS256" {
		t.Errorf("Auth.Algorithm = %q, want %q", cfg.Auth.Algorithm, "HS256")
	}
	if cfg.Gateway.Routes["user"] != "http://localhost:8001" {
		t.Errorf("Gateway.Routes[user] = %q", cfg.Gateway.Routes["user"])
	}
	if len(cfg.Gateway.PublicPaths) != 4 {
		t.Errorf("Gateway.PublicPaths = %v", cfg.Gateway.PublicPaths)
	}
	if cfg.Gateway.UpstreamTimeout != 30*time.Second {
		t.Errorf("Gateway.UpstreamTimeout = %v", cfg.Gateway.UpstreamTimeout)
	}
	if cfg.Broker.Topic != "notification" {
		t.Errorf("Broker.Topic = %q", cfg.Broker.Topic)
	}
}

// TestLoadEnvOverride は環境変数による上書きを検証する。
// t.Setenvを使うため並列実行しない。
func TestLoadEnvOverride(t *testing.T) {
	t.Run("従来の環境変数名で上書きできること", func(t *testing.T) {
		t.Setenv("PORT", "9999")
		t.Setenv("JWT_SECRET", "from-legacy")
		t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "k1:9092,k2:9092")

		cfg, err := Load("user", "")
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Port != "9999" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9999")
		}
		if cfg.Auth.Secret != "from-legacy" {
			t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "from-legacy")
		}
		if len(cfg.Broker.Brokers) != 2 || cfg.Broker.Brokers[1] != "k2:9092" {
			t.Errorf("Broker.Brokers = %v", cfg.Broker.Brokers)
		}
	})

	t.Run("プレフィックス付き環境変数で上書きできること", func(t *testing.T) {
		t.Setenv("EVENTGATE_BROKER_TOPIC", "events")
		t.Setenv("EVENTGATE_AUTH_SECRET", "from-prefixed")

		cfg, err := Load("notification", "")
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Broker.Topic != "events" {
			t.Errorf("Broker.Topic = %q, want %q", cfg.Broker.Topic, "events")
		}
		if cfg.Auth.Secret != "from-prefixed" {
			t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "from-prefixed")
		}
	})
}

// TestLoadFile はYAMLファイルからの読み込みを検証する。
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
port: "7000"
gateway:
  routes:
    user: http://svc:9000
  upstream_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("設定ファイルの作成に失敗: %v", err)
	}

	cfg, err := Load("gateway", path)
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "7000")
	}
	if cfg.Gateway.Routes["user"] != "http://svc:9000" {
		t.Errorf("Gateway.Routes[user] = %q", cfg.Gateway.Routes["user"])
	}
	if cfg.Gateway.UpstreamTimeout != 5*time.Second {
		t.Errorf("Gateway.UpstreamTimeout = %v", cfg.Gateway.UpstreamTimeout)
	}
}

// TestValidate は不正な設定値が検出されることを検証する。
func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Auth:    AuthConfig{Secret: "s", Algorithm: "HS256"},
			Gateway: GatewayConfig{Routes: map[string]string{"user": "http://svc:9000"}},
			Broker:  BrokerConfig{Brokers: []string{"localhost:9092"}, Topic: "t", GroupID: "g"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "正常な設定", mutate: func(*Config) {}},
		{name: "秘密鍵が空", mutate: func(c *Config) { c.Auth.Secret = "" }, wantErr: "auth.secret"},
		{name: "非対応のアルゴリズム", mutate: func(c *Config) { c.Auth.Algorithm = "none" }, wantErr: "auth.algorithm"},
		{name: "トピックが空", mutate: func(c *Config) { c.Broker.Topic = "" }, wantErr: "broker.topic"},
		{name: "ルートのURLが不正", mutate: func(c *Config) { c.Gateway.Routes["bad"] = "ftp://x" }, wantErr: "gateway.routes.bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want %q を含むエラー", err, tt.wantErr)
			}
		})
	}
}
