package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/eventgate/pkg/broker"
	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/middleware"
)

// ErrForbidden は他のユーザーの通知を操作しようとしたことを表す。
var ErrForbidden = errors.New("この通知を操作する権限がありません")

// ConsumerStatus はヘルスチェックに使うコンシューマの状態を返す。
type ConsumerStatus interface {
	State() broker.State
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はリッスン中のHTTPサーバー。
	httpServer *http.Server
	// store は通知の保存先。
	store *Store
	// consumer はイベントコンシューマ。nilの場合はヘルスチェックで状態を報告しない。
	consumer ConsumerStatus
	// logger はサービスのロガー。
	logger *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg *config.Config, store *Store, consumer ConsumerStatus, logger *zap.Logger, registry *prometheus.Registry) (*Server, error) {
	validator, err := middleware.NewValidator(middleware.SigningConfig{
		Secret:    cfg.Auth.Secret,
		Algorithm: cfg.Auth.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.NewHTTPMetrics("notification", registry).Handler())
	router.Use(middleware.ErrorResponder(logger,
		middleware.ErrorStatus{Err: ErrNotFound, Status: http.StatusNotFound},
		middleware.ErrorStatus{Err: ErrForbidden, Status: http.StatusForbidden},
	))

	s := &Server{
		router:   router,
		store:    store,
		consumer: consumer,
		logger:   logger,
	}
	s.setupRoutes(registry, validator)

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(registry *prometheus.Registry, validator *middleware.Validator) {
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	notifications := s.router.Group("/notifications", middleware.AuthGate(validator, nil))
	{
		// 通知一覧取得
		notifications.GET("", s.handleList())
		// 未読通知一覧取得
		notifications.GET("/unread", s.handleListUnread())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkAsRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", s.handleMarkAllAsRead())
	}
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、Shutdown されるまでブロックする。
func (s *Server) Run() error {
	s.logger.Info("HTTPサーバーを起動します", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// Shutdown は処理中のリクエストの完了を待ってからHTTPサーバーを停止する。
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	s.logger.Info("HTTPサーバーを停止しました")
	return nil
}

// handleHealth はサービスとコンシューマの状態を返すハンドラ。
// コンシューマが稼働していない場合は 503 を返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.consumer == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
			return
		}
		state := s.consumer.State()
		status, code := "ok", http.StatusOK
		if state != broker.StateRunning {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "service": "notification", "consumer": state.String()})
	}
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.store.ListByUser(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.store.ListUnread(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 通知の所有者以外は操作できない。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		n, err := s.store.Get(ctx, c.Param("id"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		if n.UserID != middleware.GetUserID(c) {
			_ = c.Error(ErrForbidden)
			return
		}
		if err := s.store.MarkAsRead(ctx, n.ID); err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.store.MarkAllAsRead(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": updated})
	}
}
