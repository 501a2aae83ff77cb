package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/nao1215/eventgate/pkg/config"
)

// ensureTopicAttempts は起動時のトピック作成を試みる回数。
const ensureTopicAttempts = 5

// EnsureTopic は設定されたトピックが存在しなければ作成する。既に存在する場合は成功とみなす。
// ブローカーの起動待ちのため、再試行可能なエラーは指数バックオフで再試行する。
// プロセス起動時にのみ使う。
func EnsureTopic(ctx context.Context, cfg config.BrokerConfig, logger *zap.Logger) error {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}
	adm, err := kadm.NewOptClient(opts...)
	if err != nil {
		return fmt.Errorf("%w: 管理クライアントの生成に失敗: %v", ErrBrokerConnection, err)
	}
	defer adm.Close()

	partitions := max(cfg.Partitions, 1)
	replication := max(cfg.Replication, 1)

	err = retry.Do(
		func() error {
			resp, err := adm.CreateTopics(ctx, int32(partitions), int16(replication), nil, cfg.Topic)
			if err != nil {
				return err
			}
			return createTopicErr(resp)
		},
		retry.Context(ctx),
		retry.Attempts(ensureTopicAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetriable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("トピックの作成を再試行します",
				zap.String("topic", cfg.Topic),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: トピック %s の作成に失敗: %v", ErrBrokerConnection, cfg.Topic, err)
	}

	logger.Info("トピックを確認しました",
		zap.String("topic", cfg.Topic),
		zap.Int("partitions", partitions),
		zap.Int("replication", replication),
	)
	return nil
}

// createTopicErr は作成結果からエラーを取り出す。既存トピックはエラーにしない。
func createTopicErr(resp kadm.CreateTopicResponses) error {
	var errs []error
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("%s: %w", t.Topic, t.Err))
		}
	}
	return errors.Join(errs...)
}

// isRetriable はブローカーが再試行不能と明示したエラー以外を再試行対象とする。
func isRetriable(err error) bool {
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}
	return true
}
