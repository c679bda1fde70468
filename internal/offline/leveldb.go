package offline

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键布局（ns 为站点命名空间，\x00 作为分隔符）：
//
//	c:<ns>\x00<cache>            → 缓存创建时间（unix 秒）
//	e:<ns>\x00<cache>\x00<key>   → gob 编码的 storedResponse
const (
	cachePrefix = "c:"
	entryPrefix = "e:"
	sep         = "\x00"
)

// OpenLevelDB 在 path 下打开（或创建）LevelDB 数据库，供多个站点共享。
func OpenLevelDB(path string) (*leveldb.DB, error) {
	if path == "" {
		return nil, errors.New("leveldb path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create leveldb dir: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return db, nil
}

// LevelDBStorage 把具名缓存持久化到 LevelDB，同一个 DB 通过 namespace 隔离站点。
type LevelDBStorage struct {
	db        *leveldb.DB
	namespace string
}

// NewLevelDBStorage 使用外部管理生命周期的 db 构建 Storage。
func NewLevelDBStorage(db *leveldb.DB, namespace string) *LevelDBStorage {
	return &LevelDBStorage{db: db, namespace: namespace}
}

type storedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64
}

func (s *LevelDBStorage) cacheKey(name string) []byte {
	return []byte(cachePrefix + s.namespace + sep + name)
}

func (s *LevelDBStorage) entriesPrefix(name string) []byte {
	return []byte(entryPrefix + s.namespace + sep + name + sep)
}

func (s *LevelDBStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := s.cacheKey(name)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.db.Put(key, []byte(strconv.FormatInt(time.Now().Unix(), 10)), nil); err != nil {
			return nil, err
		}
	}
	return &levelDBCache{storage: s, name: name}, nil
}

func (s *LevelDBStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.db.Has(s.cacheKey(name), nil)
}

func (s *LevelDBStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(s.entriesPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(s.cacheKey(name))
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LevelDBStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(cachePrefix + s.namespace + sep)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type levelDBCache struct {
	storage *LevelDBStorage
	name    string
}

func (c *levelDBCache) entryKey(req *Request) []byte {
	return append(c.storage.entriesPrefix(c.name), []byte(req.Key())...)
}

func (c *levelDBCache) Match(ctx context.Context, req *Request) (*Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	raw, err := c.storage.db.Get(c.entryKey(req), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var stored storedResponse
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&stored); err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	resp := &Response{Status: stored.Status, Header: stored.Header, Body: stored.Body}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return resp, true, nil
}

func (c *levelDBCache) Put(ctx context.Context, req *Request, resp *Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

// PutAll 通过 leveldb.Batch 一次提交，同时补写缓存标记，防止并发删除后留下孤儿条目。
func (c *levelDBCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().Unix()
	batch := new(leveldb.Batch)
	batch.Put(c.storage.cacheKey(c.name), []byte(strconv.FormatInt(now, 10)))
	for _, entry := range entries {
		if err := checkCacheable(entry.Request); err != nil {
			return err
		}
		encoded, err := encodeStored(entry.Response, now)
		if err != nil {
			return err
		}
		batch.Put(c.entryKey(entry.Request), encoded)
	}
	return c.storage.db.Write(batch, nil)
}

func (c *levelDBCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := c.storage.entriesPrefix(c.name)
	it := c.storage.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return keys, it.Error()
}

func encodeStored(resp *Response, storedAt int64) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	var buf bytes.Buffer
	stored := storedResponse{
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: storedAt,
	}
	if err := gob.NewEncoder(&buf).Encode(stored); err != nil {
		return nil, fmt.Errorf("encode cached response: %w", err)
	}
	return buf.Bytes(), nil
}
