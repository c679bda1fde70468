package offline

import (
	"context"
	"fmt"
	"net/http"
)

// Storage 管理一组具名缓存（generation）。所有实现必须可被多个 goroutine 并发使用。
type Storage interface {
	// Open 返回指定名称的缓存，不存在时创建；重复调用是幂等的。
	Open(ctx context.Context, name string) (Cache, error)
	// Has 判断缓存是否存在，不会创建。
	Has(ctx context.Context, name string) (bool, error)
	// Delete 删除整个缓存及其所有条目，返回是否确实删除了某个缓存。
	Delete(ctx context.Context, name string) (bool, error)
	// Keys 返回当前存在的缓存名称，按名称排序。
	Keys(ctx context.Context) ([]string, error)
}

// Cache 是单个 generation 内的请求 → 响应映射。
type Cache interface {
	// Match 查找条目。未命中返回 (nil, false, nil)，缺失不是错误。
	Match(ctx context.Context, req *Request) (*Response, bool, error)
	// Put 写入条目并覆盖旧值；非 GET 请求返回 ErrMethodNotCacheable。
	Put(ctx context.Context, req *Request, resp *Response) error
	// PutAll 以单个原子批次写入多个条目，任一条目非法时整体不写入。
	PutAll(ctx context.Context, entries []Entry) error
	// Keys 返回已缓存的请求键。
	Keys(ctx context.Context) ([]string, error)
}

// matchIn 在不创建缓存的前提下查找条目。
func matchIn(ctx context.Context, storage Storage, name string, req *Request) (*Response, bool, error) {
	exists, err := storage.Has(ctx, name)
	if err != nil || !exists {
		return nil, false, err
	}
	cache, err := storage.Open(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return cache.Match(ctx, req)
}

// putIn 打开（必要时创建）缓存并写入一个响应副本。
func putIn(ctx context.Context, storage Storage, name string, req *Request, resp *Response) error {
	cache, err := storage.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", name, err)
	}
	return cache.Put(ctx, req, resp.Clone())
}

func checkCacheable(req *Request) error {
	if req == nil || req.URL == nil {
		return fmt.Errorf("%w: empty request", ErrMethodNotCacheable)
	}
	if req.method() != http.MethodGet {
		return fmt.Errorf("%w: %s", ErrMethodNotCacheable, req.Method)
	}
	return nil
}
