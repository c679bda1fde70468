package journal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/donnelly-adventures/adventures/internal/logging"
	"github.com/donnelly-adventures/adventures/internal/media"
)

// fakeHost 是内存中的媒体托管，记录上传、上下文更新与删除。
type fakeHost struct {
	mu        sync.Mutex
	assets    map[string]*media.Asset
	order     []string
	destroyed []string
	failNext  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{assets: map[string]*media.Asset{}}
}

func (h *fakeHost) takeFailure() error {
	err := h.failNext
	h.failNext = nil
	return err
}

func (h *fakeHost) Upload(_ context.Context, in media.UploadInput) (*media.Asset, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailure(); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("donnelly-adventures/%d", len(h.order)+1)
	values := map[string]string{}
	for k, v := range in.Context {
		values[k] = v
	}
	asset := &media.Asset{
		PublicID:     id,
		URL:          fmt.Sprintf("https://media.test/%s?bytes=%d", id, len(body)),
		ResourceType: media.ResourceTypeFor(in.ContentType),
		Context:      values,
		Tags:         in.Tags,
		CreatedAt:    time.Date(2026, 3, len(h.order)+1, 9, 0, 0, 0, time.UTC),
	}
	h.assets[id] = asset
	h.order = append(h.order, id)
	copied := *asset
	return &copied, nil
}

func (h *fakeHost) ListByTag(_ context.Context, tag string, max int) ([]media.Asset, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailure(); err != nil {
		return nil, err
	}
	var out []media.Asset
	for i := len(h.order) - 1; i >= 0; i-- {
		asset, ok := h.assets[h.order[i]]
		if !ok {
			continue
		}
		for _, t := range asset.Tags {
			if t == tag {
				out = append(out, *asset)
				break
			}
		}
		if len(out) == max {
			break
		}
	}
	return out, nil
}

func (h *fakeHost) UpdateContext(_ context.Context, publicID, _ string, values map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailure(); err != nil {
		return err
	}
	asset, ok := h.assets[publicID]
	if !ok {
		return media.ErrNotFound
	}
	for k, v := range values {
		asset.Context[k] = v
	}
	return nil
}

func (h *fakeHost) Destroy(_ context.Context, publicID, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailure(); err != nil {
		return err
	}
	if _, ok := h.assets[publicID]; !ok {
		return media.ErrNotFound
	}
	delete(h.assets, publicID)
	h.destroyed = append(h.destroyed, publicID)
	return nil
}

func (h *fakeHost) failWith(err error) {
	h.mu.Lock()
	h.failNext = err
	h.mu.Unlock()
}

func (h *fakeHost) seed(publicID string, values map[string]string, tags ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assets[publicID] = &media.Asset{
		PublicID:     publicID,
		URL:          "https://media.test/" + publicID,
		ResourceType: media.ResourceImage,
		Context:      values,
		Tags:         tags,
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.order = append(h.order, publicID)
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
}

func newTestPersistent(t *testing.T) (*Persistent, *fakeHost, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	host := newFakeHost()
	p, err := NewPersistent(PersistentOptions{
		Fs:       fs,
		DataFile: "/srv/data/donnelly.json",
		Tag:      "california2026",
		Logger:   logging.Discard(),
		Now:      fixedClock(),
	}, host)
	require.NoError(t, err)
	return p, host, fs
}

func newTestEdge(t *testing.T) (*Edge, *fakeHost, *leveldb.DB) {
	t.Helper()
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	host := newFakeHost()
	e, err := NewEdge(EdgeOptions{Tag: "california2026", MaxResults: 100, Now: fixedClock()}, host, db)
	require.NoError(t, err)
	return e, host, db
}

func intPtr(v int) *int {
	return &v
}
