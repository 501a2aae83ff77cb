package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestParseLevel はログレベル文字列の解釈を検証する。
func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: "INFO", want: zapcore.InfoLevel},
		{in: "warning", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "", want: zapcore.InfoLevel},
		{in: "unknown", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestSetupFileOutput はファイル出力にJSONで書き込まれることを検証する。
// グローバルロガーを差し替えるため並列実行しない。
func TestSetupFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	l := Setup("test-service", Config{Level: "info", Format: "json", Outputs: []string{path}})
	l.Info("hello")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ログファイルの読み込みに失敗: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("ログにメッセージが含まれない: %s", data)
	}
	if !strings.Contains(string(data), `"service":"test-service"`) {
		t.Errorf("ログにserviceフィールドが含まれない: %s", data)
	}
}
