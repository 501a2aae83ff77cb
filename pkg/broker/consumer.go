package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/event"
)

// Handler は既知の種類のイベントを1件ずつ処理する。
// 同じイベントが再配信されうるため、実装は複数回の呼び出しに耐える必要がある。
type Handler interface {
	Handle(ctx context.Context, e event.Event) error
}

// HandlerFunc は関数をHandlerとして扱うためのアダプタ。
type HandlerFunc func(ctx context.Context, e event.Event) error

// Handle はf(ctx, e)を呼び出す。
func (f HandlerFunc) Handle(ctx context.Context, e event.Event) error {
	return f(ctx, e)
}

// State はConsumerのライフサイクル上の状態。
type State int

const (
	// StateStopped は停止中。
	StateStopped State = iota
	// StateStarting はブローカーへの接続中。
	StateStarting
	// StateRunning はコンシュームループの実行中。
	StateRunning
	// StateStopping は停止処理中、またはループが致命的エラーで終了し後始末を待っている状態。
	StateStopping
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// fetcher はConsumerが使うブローカークライアントの操作。*kgo.Client が満たす。
type fetcher interface {
	Ping(ctx context.Context) error
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	Close()
}

// Consumer はコンシュームループのライフサイクルを所有するスーパーバイザ。
//
// 状態遷移: Stopped → Starting → Running → Stopping → Stopped。
// Start と Stop は呼び出し側で直列化すること。State, Done, Err は並行に呼び出してよい。
type Consumer struct {
	cfg       config.BrokerConfig
	handler   Handler
	logger    *zap.Logger
	metrics   *Metrics
	newClient func(config.BrokerConfig) (fetcher, error)

	mu     sync.Mutex
	state  State
	client fetcher
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewConsumer はConsumerを生成する。この時点ではブローカーに接続しない。
// optsは既定のクライアントオプションの後に適用される。
func NewConsumer(cfg config.BrokerConfig, handler Handler, logger *zap.Logger, metrics *Metrics, opts ...kgo.Opt) *Consumer {
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		newClient: func(cfg config.BrokerConfig) (fetcher, error) {
			cl, err := kgo.NewClient(append(consumerOpts(cfg), opts...)...)
			if err != nil {
				return nil, err
			}
			return cl, nil
		},
	}
}

// consumerOpts はコンシューマー用の既定クライアントオプションを返す。
// オフセットは処理済みとしてマークしたレコードのみ自動コミットする。
func consumerOpts(cfg config.BrokerConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}
	return opts
}

// State は現在の状態を返す。
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done はコンシュームループが終了したときにクローズされるチャネルを返す。
// 一度も開始していない場合はクローズ済みのチャネルを返す。
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Err はコンシュームループが致命的エラーで終了した場合、その原因を返す。
// Stop による通常の終了ではnilを返す。
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Start はブローカーに接続し、コンシュームループをバックグラウンドで開始する。
//
// 既に実行中の場合は警告をログに出して何もしない。接続に失敗した場合は Stop と同じ
// 後始末を行って Stopped に戻し、ErrBrokerConnection をラップして返す。
// ctxは接続確認にのみ使い、ループの寿命は Stop で制御する。
func (c *Consumer) Start(ctx context.Context) error {
	switch c.State() {
	case StateStarting, StateRunning:
		c.logger.Warn("コンシューマーは既に実行中です", zap.String("topic", c.cfg.Topic))
		return nil
	case StateStopping:
		if err := c.Stop(ctx); err != nil {
			return err
		}
	}

	c.setState(StateStarting)
	client, err := c.newClient(c.cfg)
	if err != nil {
		c.setState(StateStopped)
		return fmt.Errorf("%w: クライアントの生成に失敗: %v", ErrBrokerConnection, err)
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := client.Ping(ctx); err != nil {
		stopErr := c.Stop(ctx)
		return errors.Join(fmt.Errorf("%w: brokers=%v: %v", ErrBrokerConnection, c.cfg.Brokers, err), stopErr)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.err = nil
	c.state = StateRunning
	c.mu.Unlock()

	go c.run(loopCtx, client, done)

	c.logger.Info("コンシューマーを開始しました",
		zap.String("topic", c.cfg.Topic),
		zap.String("group_id", c.cfg.GroupID),
		zap.Strings("brokers", c.cfg.Brokers),
	)
	return nil
}

// Stop はコンシュームループをキャンセルし、終了を待ってから接続を解放する。
//
// 停止済みの場合は何もしない。ループの終了待ちがctxの期限を超えた場合も
// 接続の解放と状態の更新は必ず行い、タイムアウトをエラーとして返す。
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cancel, done, client := c.cancel, c.done, c.client
	c.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("コンシュームループの終了待ちを打ち切りました: %w", ctx.Err()))
		}
	}
	if client != nil {
		client.Close()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.client = nil
	c.cancel = nil
	c.mu.Unlock()

	c.logger.Info("コンシューマーを停止しました", zap.String("topic", c.cfg.Topic))
	return errors.Join(errs...)
}

// run はコンシュームループ本体。Stop によるキャンセルか致命的エラーで終了する。
func (c *Consumer) run(ctx context.Context, client fetcher, done chan struct{}) {
	defer close(done)

	consecutiveErrs := 0
	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			consecutiveErrs++
			if err := c.checkFetchErrors(errs, consecutiveErrs); err != nil {
				c.fail(err)
				return
			}
		} else {
			consecutiveErrs = 0
		}

		fetches.EachRecord(func(r *kgo.Record) {
			// キャンセル後のレコードはマークせず、次回の起動で再配信させる
			if ctx.Err() != nil {
				return
			}
			c.process(ctx, r)
			// 処理中にキャンセルされたレコードも完了扱いにしない
			if ctx.Err() != nil {
				return
			}
			client.MarkCommitRecords(r)
		})
	}
}

// checkFetchErrors はフェッチエラーをログに出し、ループを終了すべきかを判定する。
// 再試行不能なブローカーエラー、または連続エラーが上限に達した場合にエラーを返す。
func (c *Consumer) checkFetchErrors(errs []kgo.FetchError, consecutive int) error {
	var fatal error
	for _, fe := range errs {
		c.logger.Error("フェッチに失敗しました",
			zap.String("topic", fe.Topic),
			zap.Int32("partition", fe.Partition),
			zap.Int("consecutive", consecutive),
			zap.Error(fe.Err),
		)
		var ke *kerr.Error
		if errors.As(fe.Err, &ke) && !ke.Retriable && fatal == nil {
			fatal = fe.Err
		}
	}
	if fatal != nil {
		return fmt.Errorf("%w: %v", ErrBrokerConnection, fatal)
	}
	if c.cfg.MaxFetchErrors > 0 && consecutive >= c.cfg.MaxFetchErrors {
		return fmt.Errorf("%w: フェッチエラーが%d回連続しました: %v", ErrBrokerConnection, consecutive, errs[0].Err)
	}
	return nil
}

// fail はループの致命的エラーを記録する。接続の解放は Stop が行う。
func (c *Consumer) fail(err error) {
	c.mu.Lock()
	c.err = err
	if c.state == StateRunning {
		c.state = StateStopping
	}
	c.mu.Unlock()

	c.logger.Error("コンシュームループを終了します", zap.String("topic", c.cfg.Topic), zap.Error(err))
}

// process は1件のレコードをデコードしてハンドラに渡す。
// どのような失敗もここで止め、ループには伝播させない。
func (c *Consumer) process(ctx context.Context, r *kgo.Record) {
	status := c.dispatch(ctx, r)
	c.metrics.observeConsumed(r.Topic, status)
}

func (c *Consumer) dispatch(ctx context.Context, r *kgo.Record) (status string) {
	fields := []zap.Field{
		zap.String("topic", r.Topic),
		zap.Int32("partition", r.Partition),
		zap.Int64("offset", r.Offset),
	}

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("イベントハンドラがパニックしました",
				append(fields, zap.ByteString("payload", r.Value), zap.Any("panic", p), zap.Stack("stack"))...)
			status = statusHandlerError
		}
	}()

	e, err := event.Decode(r.Value)
	if err != nil {
		c.logger.Warn("不正な形式のイベントをスキップしました",
			append(fields, zap.ByteString("payload", r.Value), zap.Error(err))...)
		return statusMalformed
	}

	meta := e.Meta()
	fields = append(fields,
		zap.String("event_type", string(meta.EventType)),
		zap.String("event_id", meta.EventID),
	)
	if _, ok := e.(*event.Unknown); ok {
		c.logger.Info("未知の種類のイベントをスキップしました",
			append(fields, zap.ByteString("payload", r.Value))...)
		return statusSkipped
	}

	start := time.Now()
	err = c.handler.Handle(ctx, e)
	c.metrics.observeHandler(r.Topic, time.Since(start))
	if err != nil {
		c.logger.Error("イベントの処理に失敗しました",
			append(fields, zap.ByteString("payload", r.Value), zap.Error(fmt.Errorf("%w: %v", ErrHandler, err)))...)
		return statusHandlerError
	}

	c.logger.Debug("イベントを処理しました", fields...)
	return statusOK
}
