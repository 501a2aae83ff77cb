package user

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/eventgate/pkg/broker"
	"github.com/nao1215/eventgate/pkg/config"
	"github.com/nao1215/eventgate/pkg/event"
	"github.com/nao1215/eventgate/pkg/middleware"
)

var (
	// ErrInvalidRequest はリクエストの内容が不正であることを表す。
	ErrInvalidRequest = errors.New("リクエストが不正です")
	// ErrInvalidLogin はユーザー名またはパスワードが一致しないことを表す。
	ErrInvalidLogin = errors.New("ユーザー名またはパスワードが正しくありません")
	// ErrForbidden は他のユーザーを操作しようとしたことを表す。
	ErrForbidden = errors.New("他のユーザーは操作できません")
)

// Server はユーザーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はリッスン中のHTTPサーバー。
	httpServer *http.Server
	// store はユーザーの保存先。
	store *Store
	// publisher はユーザーイベントの発行先。
	publisher broker.Publisher
	// topic はイベントを発行するトピック。
	topic string
	// signing はトークンの署名設定。
	signing middleware.SigningConfig
	// hashCost はbcryptのコスト。
	hashCost int
	// logger はサービスのロガー。
	logger *zap.Logger
}

// NewServer は新しいユーザーサーバーを生成する。
func NewServer(cfg *config.Config, store *Store, publisher broker.Publisher, logger *zap.Logger, registry *prometheus.Registry) (*Server, error) {
	signing := middleware.SigningConfig{
		Secret:    cfg.Auth.Secret,
		Algorithm: cfg.Auth.Algorithm,
		TTL:       cfg.Auth.TTL,
	}
	validator, err := middleware.NewValidator(signing)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.NewHTTPMetrics("user", registry).Handler())
	router.Use(middleware.ErrorResponder(logger,
		middleware.ErrorStatus{Err: ErrInvalidRequest, Status: http.StatusBadRequest},
		middleware.ErrorStatus{Err: ErrUsernameTaken, Status: http.StatusBadRequest},
		middleware.ErrorStatus{Err: ErrEmailTaken, Status: http.StatusBadRequest},
		middleware.ErrorStatus{Err: ErrInvalidLogin, Status: http.StatusUnauthorized},
		middleware.ErrorStatus{Err: ErrForbidden, Status: http.StatusForbidden},
		middleware.ErrorStatus{Err: ErrNotFound, Status: http.StatusNotFound},
	))

	s := &Server{
		router:    router,
		store:     store,
		publisher: publisher,
		topic:     cfg.Broker.Topic,
		signing:   signing,
		hashCost:  bcrypt.DefaultCost,
		logger:    logger,
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
// /signup, /login, /health は公開パスとして認証を省略する。
func (s *Server) setupRoutes(registry *prometheus.Registry, validator *middleware.Validator) {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	gated := s.router.Group("", middleware.AuthGate(validator, middleware.DefaultPublicPaths))
	{
		gated.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "user"})
		})
		// ユーザー登録
		gated.POST("/signup", s.handleSignup())
		// ログイン
		gated.POST("/login", s.handleLogin())

		users := gated.Group("/users")
		{
			users.GET("", s.handleList())
			users.GET("/:id", s.handleGet())
			users.PUT("/:id", s.handleUpdate())
			users.DELETE("/:id", s.handleDelete())
		}
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

// signupRequest はユーザー登録リクエストのJSON構造。
type signupRequest struct {
	Username string  `json:"username" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required,max=72"`
	Age      *int    `json:"age"`
	FullName *string `json:"full_name"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// updateRequest はプロフィール更新リクエストのJSON構造。指定したフィールドだけを更新する。
type updateRequest struct {
	Username *string `json:"username" binding:"omitempty,min=1"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Age      *int    `json:"age"`
	FullName *string `json:"full_name"`
}

// handleSignup はユーザーを登録し、user_created イベントを発行するハンドラ。
func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
		if err != nil {
			_ = c.Error(fmt.Errorf("パスワードのハッシュ化に失敗: %w", err))
			return
		}
		now := time.Now().UTC()
		u := &User{
			Username:     strings.ToLower(req.Username),
			Email:        req.Email,
			PasswordHash: string(hash),
			Role:         RoleUser,
			Age:          req.Age,
			FullName:     req.FullName,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.Create(c.Request.Context(), u); err != nil {
			_ = c.Error(err)
			return
		}

		s.publish(c.Request.Context(), u.ID, event.NewUserCreated(u.ID, u.Username, u.Email))
		c.JSON(http.StatusCreated, u)
	}
}

// handleLogin はパスワードを検証し、Bearerトークンを発行するハンドラ。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
			return
		}

		u, err := s.store.GetByUsername(c.Request.Context(), strings.ToLower(req.Username))
		if errors.Is(err, ErrNotFound) {
			_ = c.Error(ErrInvalidLogin)
			return
		}
		if err != nil {
			_ = c.Error(err)
			return
		}
		if !u.IsActive || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			_ = c.Error(ErrInvalidLogin)
			return
		}

		token, err := middleware.GenerateJWT(s.signing, strconv.FormatInt(u.ID, 10), u.Username)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"token_type": "Bearer",
			"expires_in": int(s.tokenTTL().Seconds()),
		})
	}
}

// handleList は全ユーザーの一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := s.store.List(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// handleGet は指定されたユーザーを返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := userIDParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		u, err := s.store.Get(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// handleUpdate は自分のプロフィールを更新するハンドラ。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.ownID(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
			return
		}

		ctx := c.Request.Context()
		u, err := s.store.Get(ctx, id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if req.Username != nil {
			u.Username = strings.ToLower(*req.Username)
		}
		if req.Email != nil {
			u.Email = *req.Email
		}
		if req.Age != nil {
			u.Age = req.Age
		}
		if req.FullName != nil {
			u.FullName = req.FullName
		}
		u.UpdatedAt = time.Now().UTC()

		if err := s.store.Update(ctx, u); err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// handleDelete は自分のアカウントを削除し、user_deleted イベントを発行するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.ownID(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		u, err := s.store.Delete(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}

		s.publish(c.Request.Context(), u.ID, event.NewUserDeleted(u.ID, u.Username, u.Email))
		c.Status(http.StatusNoContent)
	}
}

// publish はユーザーIDをキーにイベントを発行する。
// 失敗してもリクエストは成功として扱い、ログにだけ残す。
// クライアントが切断しても発行は中断しない。
func (s *Server) publish(ctx context.Context, userID int64, e event.Event) {
	meta := e.Meta()
	if err := s.publisher.Publish(context.WithoutCancel(ctx), s.topic, strconv.FormatInt(userID, 10), e); err != nil {
		s.logger.Error("イベントの発行に失敗しました",
			zap.String("event_type", string(meta.EventType)),
			zap.String("event_id", meta.EventID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("イベントを発行しました",
		zap.String("event_type", string(meta.EventType)),
		zap.String("event_id", meta.EventID),
		zap.Int64("user_id", userID),
	)
}

func (s *Server) tokenTTL() time.Duration {
	if s.signing.TTL <= 0 {
		return time.Hour
	}
	return s.signing.TTL
}

// ownID はパスのユーザーIDを返す。認証済みユーザー以外のIDの場合は ErrForbidden を返す。
func (s *Server) ownID(c *gin.Context) (int64, error) {
	id, err := userIDParam(c)
	if err != nil {
		return 0, err
	}
	if strconv.FormatInt(id, 10) != middleware.GetUserID(c) {
		return 0, ErrForbidden
	}
	return id, nil
}

func userIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: ユーザーID %q は数値である必要があります", ErrInvalidRequest, c.Param("id"))
	}
	return id, nil
}
