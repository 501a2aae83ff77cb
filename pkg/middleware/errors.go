package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorStatus はエラーの種類とHTTPステータスコードの対応。
type ErrorStatus struct {
	// Err は errors.Is で照合する番兵エラー。
	Err error
	// Status は応答するHTTPステータスコード。
	Status int
}

// credentialStatuses は認証エラーの既定の対応。
var credentialStatuses = []ErrorStatus{
	{Err: ErrMissingCredential, Status: http.StatusUnauthorized},
	{Err: ErrInvalidCredential, Status: http.StatusUnauthorized},
}

// ErrorResponder はハンドラやミドルウェアがコンテキストに記録したエラーを
// HTTPステータスとJSONボディに変換するGinミドルウェアを返す。
// チェーンの最外層に置き、エラーからステータスへの変換をここだけで行う。
// 応答ボディには番兵エラーのメッセージのみを載せ、ラップされた診断情報はログにだけ残す。
func ErrorResponder(logger *zap.Logger, statuses ...ErrorStatus) gin.HandlerFunc {
	table := append(append([]ErrorStatus{}, credentialStatuses...), statuses...)

	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		status, message := http.StatusInternalServerError, "内部サーバーエラーが発生しました"
		for _, es := range table {
			if errors.Is(last.Err, es.Err) {
				status, message = es.Status, es.Err.Error()
				break
			}
		}

		logger.Info("リクエストを拒否しました",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(last.Err),
		)
		c.JSON(status, gin.H{"error": message})
	}
}
