package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/nao1215/eventgate/pkg/httpclient"
)

var (
	// ErrServiceNotFound はルーティングテーブルに存在しないサービスが指定されたことを表す。
	ErrServiceNotFound = errors.New("サービスが見つかりません")
	// ErrInvalidBody はリクエストボディがJSONとして不正であることを表す。
	ErrInvalidBody = errors.New("リクエストボディが不正です")
)

// hopByHopHeaders は転送してはならない接続単位のヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Doer はバックエンドへ1往復の通信を行う。*httpclient.Client が満たす。
type Doer interface {
	Do(ctx context.Context, r httpclient.Request) (*httpclient.Response, error)
}

// ForwardRequest はバックエンドへ転送するリクエスト。
type ForwardRequest struct {
	// Service はルーティングテーブルで解決する論理サービス名。
	Service string
	// Path はサービス名のセグメントを取り除いた残りのパス。
	Path string
	// RawQuery はクエリ文字列。
	RawQuery string
	// Method はHTTPメソッド。
	Method string
	// Header は受信したリクエストヘッダー。
	Header http.Header
	// Body はリクエストボディ。ボディを持つメソッドの場合のみ使う。
	Body []byte
}

// Proxy はリクエストを解決先のバックエンドへ転送するリバースプロキシ。
type Proxy struct {
	routes *RoutingTable
	client Doer
}

// NewProxy はProxyを生成する。
func NewProxy(routes *RoutingTable, client Doer) *Proxy {
	return &Proxy{routes: routes, client: client}
}

// Forward はリクエストをバックエンドへ1回だけ転送し、レスポンスをそのまま返す。
//
// サービスが解決できない場合は通信せずに ErrServiceNotFound を返す。
// バックエンドが返したエラーステータスはエラーにせずレスポンスとして返す。
func (p *Proxy) Forward(ctx context.Context, r ForwardRequest) (*httpclient.Response, error) {
	base, ok := p.routes.Resolve(r.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, r.Service)
	}

	var body []byte
	if carriesBody(r.Method) && len(r.Body) > 0 {
		if !json.Valid(r.Body) {
			return nil, ErrInvalidBody
		}
		body = r.Body
	}

	header := stripHopByHop(r.Header)
	header.Del("Host")
	header.Del("Content-Length")
	if body == nil {
		header.Del("Content-Type")
	}

	resp, err := p.client.Do(ctx, httpclient.Request{
		Method: r.Method,
		URL:    TargetURL(base, r.Path, r.RawQuery),
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}

// RemainingPath は /api/<service> を除いた残りのパスをエスケープされた形のまま返す。
// デコード済みのパスを使うと %3F や %2F がパスの区切りやクエリに化けるため、
// ルーターのパラメータではなく EscapedPath から切り出す。
func RemainingPath(u *url.URL) string {
	rest := strings.TrimPrefix(u.EscapedPath(), "/api/")
	if _, tail, ok := strings.Cut(rest, "/"); ok {
		return "/" + tail
	}
	return "/"
}

// TargetURL はベースURLと残りのパスから転送先URLを組み立てる。
// パスはエスケープ済みの形で受け取り、クエリ文字列とともに変更せずに引き継ぐ。
func TargetURL(base, path, rawQuery string) string {
	target := strings.TrimRight(base, "/") + "/" + strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// carriesBody はメソッドが慣習的にボディを持つかを返す。
func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// stripHopByHop はhop-by-hopヘッダーとConnectionで列挙されたヘッダーを除いた複製を返す。
func stripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, v := range out.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}
