package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/event"
)

// Publisher はドメインイベントをトピックに送信する。
type Publisher interface {
	Publish(ctx context.Context, topic, key string, e event.Event) error
}

// producerClient はProducerが使うブローカークライアントの操作。
type producerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

// Producer はイベントを同期的に送信するプロデューサー。
// 並行利用に安全。
type Producer struct {
	client    producerClient
	logger    *zap.Logger
	metrics   *Metrics
	closeOnce sync.Once
}

var _ Publisher = (*Producer)(nil)

// NewProducer はブローカー設定からProducerを生成する。
// optsは既定のクライアントオプションの後に適用される。
func NewProducer(cfg config.BrokerConfig, logger *zap.Logger, metrics *Metrics, opts ...kgo.Opt) (*Producer, error) {
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.DialTimeout > 0 {
		kopts = append(kopts, kgo.DialTimeout(cfg.DialTimeout))
	}
	if cfg.DeliveryTimeout > 0 {
		kopts = append(kopts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("プロデューサーの生成に失敗: %w", err)
	}
	return newProducer(cl, logger, metrics), nil
}

func newProducer(client producerClient, logger *zap.Logger, metrics *Metrics) *Producer {
	return &Producer{client: client, logger: logger, metrics: metrics}
}

// Publish はイベントをシリアライズし、keyをパーティションキーとしてtopicに送信する。
// ブローカーの確認応答を待ってから返る。同じkeyのイベントは送信順に処理される。
// 配信に失敗した場合は ErrDelivery をラップして返し、再送はしない。
func (p *Producer) Publish(ctx context.Context, topic, key string, e event.Event) error {
	payload, err := event.Encode(e)
	if err != nil {
		return err
	}
	meta := e.Meta()

	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(meta.EventType)},
			{Key: "event_id", Value: []byte(meta.EventID)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.metrics.observeProduced(topic, statusFailed)
		return fmt.Errorf("%w: topic=%s event_id=%s: %v", ErrDelivery, topic, meta.EventID, err)
	}

	p.metrics.observeProduced(topic, statusOK)
	p.logger.Debug("イベントを送信しました",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.String("event_type", string(meta.EventType)),
		zap.String("event_id", meta.EventID),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset),
	)
	return nil
}

// Close はバッファに残ったメッセージを送り切ってから接続を解放する。
// Flushが失敗しても接続は必ず解放する。2回目以降の呼び出しは何もしない。
func (p *Producer) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		defer p.client.Close()
		if ferr := p.client.Flush(ctx); ferr != nil {
			err = fmt.Errorf("未送信メッセージのフラッシュに失敗: %w", ferr)
		}
	})
	return err
}
