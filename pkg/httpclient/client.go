package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpstreamUnavailable はバックエンドに到達できない、またはタイムアウトしたことを表す。
// バックエンドが返したエラーステータスはこのエラーにならない。
var ErrUpstreamUnavailable = errors.New("内部サービスとの通信に失敗しました")

// defaultTimeout はタイムアウト未指定時の既定値。
const defaultTimeout = 30 * time.Second

// Request はバックエンドに送るリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// URL は転送先の完全なURL（クエリ文字列を含む）。
	URL string
	// Header は転送するヘッダー。
	Header http.Header
	// Body はリクエストボディ。nilの場合はボディなしで送信する。
	Body []byte
}

// Response はバックエンドから受け取ったレスポンス。
type Response struct {
	// StatusCode はバックエンドが返したステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// ContentType はレスポンスのContent-Typeを返す。未設定の場合はJSONとみなす。
func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// Client はサービス間通信用のHTTPクライアント。
// 並行利用に安全。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
}

// New は新しいサービス間通信用HTTPクライアントを生成する。
// timeoutが0以下の場合は30秒になる。
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			// リダイレクトは追わずにそのまま呼び出し側へ返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do はリクエストを1回だけ送信し、レスポンス全体を読み込んで返す。
// 通信自体の失敗は ErrUpstreamUnavailable をラップして返す。
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: レスポンスの読み取りに失敗: %v", ErrUpstreamUnavailable, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}, nil
}
