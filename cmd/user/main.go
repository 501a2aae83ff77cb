// ユーザーサービスのエントリポイント。
// ユーザーの登録・ログイン・管理を行い、登録と削除をイベントとしてブローカーに発行する。
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

	"github.com/nao1215/eventgate/internal/user"
	"github.com/nao1215/eventgate/pkg/broker"
	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/logger"
)

// shutdownTimeout は処理中のリクエストと未送信イベントの完了を待つ最大時間。
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("EVENTGATE_CONFIG"), "設定ファイル（YAML）のパス")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ユーザーサービスが異常終了しました: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load("user", configPath)
	if err != nil {
		return err
	}
	log := logger.Setup("user", cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := user.OpenStore(ctx, cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.Broker.AutoCreateTopic {
		if err := broker.EnsureTopic(ctx, cfg.Broker, log); err != nil {
			return err
		}
	}
	producer, err := broker.NewProducer(cfg.Broker, log, broker.NewMetrics(registry))
	if err != nil {
		return err
	}

	server, err := user.NewServer(cfg, store, producer, log, registry)
	if err != nil {
		_ = producer.Close(context.Background())
		return fmt.Errorf("ユーザーサーバーの初期化に失敗: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("シャットダウンを開始します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// リクエスト処理中の発行を待ってからプロデューサーを閉じる
		return errors.Join(server.Shutdown(shutdownCtx), producer.Close(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("ユーザーサービスが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
