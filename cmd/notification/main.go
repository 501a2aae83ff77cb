// 通知サービスのエントリポイント。
// ブローカーからユーザーイベントを受信して通知を生成・配信し、
// ユーザーが自分宛ての通知を参照・既読化するAPIを提供する。
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

	"github.com/nao1215/eventgate/internal/notification"
	"github.com/nao1215/eventgate/pkg/broker"
	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/logger"
)

// shutdownTimeout は処理中のリクエストとイベントの完了を待つ最大時間。
const shutdownTimeout = 10 * time.Second

// errConsumerStopped はコンシューマが自ら停止したことを表す。
var errConsumerStopped = errors.New("イベントの受信が停止しました")

func main() {
	configPath := flag.String("config", os.Getenv("EVENTGATE_CONFIG"), "設定ファイル（YAML）のパス")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスが異常終了しました: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load("notification", configPath)
	if err != nil {
		return err
	}
	log := logger.Setup("notification", cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := notification.OpenStore(ctx, cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.Broker.AutoCreateTopic {
		if err := broker.EnsureTopic(ctx, cfg.Broker, log); err != nil {
			return err
		}
	}

	handler := notification.NewEventHandler(store, notification.NewLogSender(log), log)
	consumer := broker.NewConsumer(cfg.Broker, handler, log, broker.NewMetrics(registry))
	// ブローカーに接続できない場合は起動しない
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	server, err := notification.NewServer(cfg, store, consumer, log, registry)
	if err != nil {
		_ = consumer.Stop(context.Background())
		return fmt.Errorf("通知サーバーの初期化に失敗: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		// コンシューマは自動で再起動しない。プロセスを終了させて再起動は実行環境に任せる
		select {
		case <-gctx.Done():
			return nil
		case <-consumer.Done():
			if err := consumer.Err(); err != nil {
				return fmt.Errorf("%w: %w", errConsumerStopped, err)
			}
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("シャットダウンを開始します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// 新しいリクエストを止めてからコンシューマを停止する
		return errors.Join(server.Shutdown(shutdownCtx), consumer.Stop(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("通知サービスが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
