// API Gatewayサービスのエントリポイント。
// 外部からアクセス可能な唯一のサービスであり、Bearerトークンの検証と
// /api/:service/*path のバックエンドへの転送を担当する。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/eventgate/internal/gateway"
	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/logger"
)

// shutdownTimeout は処理中のリクエストの完了を待つ最大時間。
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("EVENTGATE_CONFIG"), "設定ファイル（YAML）のパス")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Gatewayサービスが異常終了しました: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load("gateway", configPath)
	if err != nil {
		return err
	}
	log := logger.Setup("gateway", cfg.Log)
	defer func() { _ = log.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server, err := gateway.NewServer(cfg, log, registry)
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("シャットダウンを開始します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Gatewayサービスが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
