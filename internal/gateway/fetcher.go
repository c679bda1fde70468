package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/donnelly-adventures/adventures/internal/offline"
	"github.com/donnelly-adventures/adventures/internal/server"
)

// defaultMaxResponseBytes 限制单个 Origin 响应体大小，防止把超大文件读进内存。
const defaultMaxResponseBytes int64 = 256 << 20

// ErrResponseTooLarge 表示 Origin 响应超过 MaxResponseBytes。
// Fetch 返回时同时包装 offline.ErrUpstreamRejected，执行器不会把它当作离线处理。
var ErrResponseTooLarge = errors.New("origin response too large")

// OriginFetcher 通过共享 http.Client 访问站点 Origin，实现 offline.Fetcher。
// 只有连接层失败才返回 error，4xx/5xx 以 Response 形式原样交回。
type OriginFetcher struct {
	client           *http.Client
	maxResponseBytes int64
}

var _ offline.Fetcher = (*OriginFetcher)(nil)

// NewOriginFetcher 创建 fetcher；client 为空时使用默认 Origin client。
func NewOriginFetcher(client *http.Client, maxResponseBytes int64) *OriginFetcher {
	if client == nil {
		client = server.NewOriginClient(nil)
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = defaultMaxResponseBytes
	}
	return &OriginFetcher{client: client, maxResponseBytes: maxResponseBytes}
}

// Fetch implements offline.Fetcher.
func (f *OriginFetcher) Fetch(ctx context.Context, req *offline.Request) (*offline.Response, error) {
	httpReq, err := buildOriginRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	if int64(len(body)) > f.maxResponseBytes {
		return nil, fmt.Errorf("%w: %w: %s", offline.ErrUpstreamRejected, ErrResponseTooLarge, req.URL.Redacted())
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &offline.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

func buildOriginRequest(ctx context.Context, req *offline.Request) (*http.Request, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(httpReq.Header, req.Header)
	// 由 Transport 负责 gzip 协商，缓存中保存的始终是解码后的正文。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = req.URL.Host
	return httpReq, nil
}
