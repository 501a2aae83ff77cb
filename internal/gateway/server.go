package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/httpclient"
	"github.com/nao1215/eventgate/pkg/middleware"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はリッスン中のHTTPサーバー。
	httpServer *http.Server
	// proxy はバックエンドへの転送を行う。
	proxy *Proxy
	// validator はBearerトークンの検証を行う。
	validator *middleware.Validator
	// logger はサービスのロガー。
	logger *zap.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
// registryにはHTTPメトリクスを登録し、/metrics で公開する。
func NewServer(cfg *config.Config, logger *zap.Logger, registry *prometheus.Registry) (*Server, error) {
	return newServer(cfg, logger, registry, httpclient.New(cfg.Gateway.UpstreamTimeout))
}

func newServer(cfg *config.Config, logger *zap.Logger, registry *prometheus.Registry, client Doer) (*Server, error) {
	routes, err := NewRoutingTable(cfg.Gateway.Routes)
	if err != nil {
		return nil, fmt.Errorf("ルーティングテーブルの生成に失敗: %w", err)
	}
	validator, err := middleware.NewValidator(middleware.SigningConfig{
		Secret:    cfg.Auth.Secret,
		Algorithm: cfg.Auth.Algorithm,
		TTL:       cfg.Auth.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.NewHTTPMetrics("gateway", registry).Handler())
	router.Use(middleware.CORS(cfg.Gateway.CORSOrigins))
	router.Use(middleware.ErrorResponder(logger,
		middleware.ErrorStatus{Err: ErrServiceNotFound, Status: http.StatusNotFound},
		middleware.ErrorStatus{Err: ErrInvalidBody, Status: http.StatusBadRequest},
		middleware.ErrorStatus{Err: httpclient.ErrUpstreamUnavailable, Status: http.StatusBadGateway},
	))

	s := &Server{
		router:    router,
		proxy:     NewProxy(routes, client),
		validator: validator,
		logger:    logger,
	}
	s.setupRoutes(registry, cfg.Gateway.PublicPaths)

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("ルーティングテーブルを読み込みました", zap.Strings("services", routes.Names()))
	return s, nil
}

// setupRoutes はルーティングを設定する。
// /metrics は運用向けのエンドポイントであり、認証ゲートの外に置く。
func (s *Server) setupRoutes(registry *prometheus.Registry, publicPaths []string) {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	gated := s.router.Group("", middleware.AuthGate(s.validator, publicPaths))
	{
		// ヘルスチェック（公開パス）
		gated.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
		})
		// 動的プロキシ
		gated.Any("/api/:service/*path", s.handleProxy())
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

// handleProxy は /api/:service/*path をバックエンドに転送するハンドラを返す。
// ボディを持つメソッドの場合のみボディを読み込む。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if carriesBody(c.Request.Method) {
			b, err := io.ReadAll(c.Request.Body)
			if err != nil {
				_ = c.Error(fmt.Errorf("%w: %v", ErrInvalidBody, err))
				c.Abort()
				return
			}
			body = b
		}

		resp, err := s.proxy.Forward(c.Request.Context(), ForwardRequest{
			Service:  c.Param("service"),
			Path:     RemainingPath(c.Request.URL),
			RawQuery: c.Request.URL.RawQuery,
			Method:   c.Request.Method,
			Header:   c.Request.Header,
			Body:     body,
		})
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		for key, values := range resp.Header {
			if skipResponseHeader(key) {
				continue
			}
			for _, v := range values {
				c.Writer.Header().Add(key, v)
			}
		}
		c.Data(resp.StatusCode, resp.ContentType(), resp.Body)
	}
}

// skipResponseHeader はバックエンドのレスポンスから引き継がないヘッダーかを返す。
// 長さと種別は c.Data が、CORSはゲートウェイ自身が設定する。
func skipResponseHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Content-Length", "Content-Type":
		return true
	}
	return strings.HasPrefix(http.CanonicalHeaderKey(key), "Access-Control-")
}
