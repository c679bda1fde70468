package offline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

func storageImplementations(t *testing.T) map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"leveldb": func(t *testing.T) Storage {
			db := newMemLevelDB(t)
			return NewLevelDBStorage(db, "donnelly")
		},
	}
}

func newMemLevelDB(t *testing.T) *leveldb.DB {
	t.Helper()
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStorageContract(t *testing.T) {
	for name, build := range storageImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			storage := build(t)

			exists, err := storage.Has(ctx, "v1-general")
			require.NoError(t, err)
			require.False(t, exists)

			cache, err := storage.Open(ctx, "v1-general")
			require.NoError(t, err)
			_, err = storage.Open(ctx, "v1-general")
			require.NoError(t, err, "Open 应当幂等")

			req := mustRequest(t, http.MethodGet, "https://site.test/index.html")
			resp, ok, err := cache.Match(ctx, req)
			require.NoError(t, err, "未命中不是错误")
			require.False(t, ok)
			require.Nil(t, resp)

			require.NoError(t, cache.Put(ctx, req, &Response{Status: 200, Header: http.Header{"Etag": {"a"}}, Body: []byte("one")}))
			require.NoError(t, cache.Put(ctx, req, &Response{Status: 200, Header: http.Header{"Etag": {"b"}}, Body: []byte("two")}))

			resp, ok, err = cache.Match(ctx, req)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "two", string(resp.Body))
			require.Equal(t, "b", resp.Header.Get("Etag"))

			keys, err := cache.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{req.Key()}, keys)

			_, err = storage.Open(ctx, "v1-images")
			require.NoError(t, err)
			names, err := storage.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"v1-general", "v1-images"}, names)

			deleted, err := storage.Delete(ctx, "v1-general")
			require.NoError(t, err)
			require.True(t, deleted)
			deleted, err = storage.Delete(ctx, "v1-general")
			require.NoError(t, err)
			require.False(t, deleted)

			reopened, err := storage.Open(ctx, "v1-general")
			require.NoError(t, err)
			_, ok, err = reopened.Match(ctx, req)
			require.NoError(t, err)
			require.False(t, ok, "删除缓存应一并删除条目")
		})
	}
}

func TestStorageRejectsNonGET(t *testing.T) {
	for name, build := range storageImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cache, err := build(t).Open(ctx, "v1-general")
			require.NoError(t, err)

			post := mustRequest(t, http.MethodPost, "https://site.test/api/journal")
			err = cache.Put(ctx, post, &Response{Status: 200})
			require.True(t, errors.Is(err, ErrMethodNotCacheable))

			get := mustRequest(t, http.MethodGet, "https://site.test/a")
			err = cache.PutAll(ctx, []Entry{
				{Request: get, Response: &Response{Status: 200}},
				{Request: post, Response: &Response{Status: 200}},
			})
			require.True(t, errors.Is(err, ErrMethodNotCacheable))

			keys, err := cache.Keys(ctx)
			require.NoError(t, err)
			require.Empty(t, keys, "批量写入含非法条目时不应部分提交")
		})
	}
}

func TestLevelDBStorageNamespaces(t *testing.T) {
	ctx := context.Background()
	db := newMemLevelDB(t)
	a := NewLevelDBStorage(db, "site-a")
	b := NewLevelDBStorage(db, "site-b")

	_, err := a.Open(ctx, "v1-general")
	require.NoError(t, err)

	names, err := b.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, names, "不同站点的缓存互不可见")

	names, err = a.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v1-general"}, names)
}

func TestMemoryMatchReturnsCopy(t *testing.T) {
	ctx := context.Background()
	cache, _ := NewMemoryStorage().Open(ctx, "v1-general")
	req := mustRequest(t, http.MethodGet, "https://site.test/a")
	require.NoError(t, cache.Put(ctx, req, &Response{Status: 200, Body: []byte("abc")}))

	resp, _, _ := cache.Match(ctx, req)
	resp.Body[0] = 'x'

	again, _, _ := cache.Match(ctx, req)
	require.Equal(t, "abc", string(again.Body))
}
