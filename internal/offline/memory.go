package offline

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage 是进程内实现，用于测试与嵌入场景。
type MemoryStorage struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
}

// NewMemoryStorage 创建空的内存 Storage。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cache := s.caches[name]
	if cache == nil {
		cache = &memoryCache{entries: make(map[string]*Response)}
		s.caches[name] = cache
	}
	return cache, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	return true, nil
}

func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Response
	order   []string
}

func (c *memoryCache) Match(_ context.Context, req *Request) (*Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[req.Key()]
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

func (c *memoryCache) Put(_ context.Context, req *Request, resp *Response) error {
	if err := checkCacheable(req); err != nil {
		return err
	}
	c.mu.Lock()
	c.store(req.Key(), resp)
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) PutAll(_ context.Context, entries []Entry) error {
	for _, entry := range entries {
		if err := checkCacheable(entry.Request); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		c.store(entry.Request.Key(), entry.Response)
	}
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...), nil
}

func (c *memoryCache) store(key string, resp *Response) {
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = resp.Clone()
}
