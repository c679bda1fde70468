package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/donnelly-adventures/adventures/internal/media"
)

// entriesKey 是 KV 中保存全部日记的键。
const entriesKey = "entries"

// EdgeOptions 配置 edge 变体。
type EdgeOptions struct {
	Tag        string
	MaxResults int
	Now        func() time.Time
}

// Edge 是只读照片 + KV 日记的轻量变体：照片直接按标签从媒体托管列出，日记以 JSON 数组存在单个键下。
type Edge struct {
	media      media.Host
	kv         *leveldb.DB
	tag        string
	maxResults int
	now        func() time.Time

	mu sync.Mutex
}

var _ Backend = (*Edge)(nil)

func NewEdge(opts EdgeOptions, host media.Host, kv *leveldb.DB) (*Edge, error) {
	if host == nil {
		return nil, fmt.Errorf("media host required")
	}
	if kv == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if opts.Tag == "" {
		return nil, fmt.Errorf("media tag required")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Edge{
		media:      host,
		kv:         kv,
		tag:        opts.Tag,
		maxResults: opts.MaxResults,
		now:        opts.Now,
	}, nil
}

func (e *Edge) Capabilities() Capabilities {
	return Capabilities{Variant: "edge", JournalAckOnly: true}
}

// ListPhotos 每次都实时查询媒体托管，上下文中的 day_number 无法解析时视为未设置。
func (e *Edge) ListPhotos(ctx context.Context, filter Filter) ([]Photo, error) {
	assets, err := e.media.ListByTag(ctx, e.tag, e.maxResults)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMedia, err)
	}
	photos := make([]Photo, 0, len(assets))
	for _, a := range assets {
		photo := Photo{
			ID:         a.PublicID,
			URL:        a.URL,
			PublicID:   a.PublicID,
			Caption:    a.Context[media.ContextCaption],
			UploadedBy: a.Context[media.ContextUploadedBy],
			Type:       a.ResourceType,
			CreatedAt:  a.CreatedAt,
		}
		if raw := strings.TrimSpace(a.Context[media.ContextDayNumber]); raw != "" {
			if day, err := strconv.Atoi(raw); err == nil {
				photo.DayNumber = &day
			}
		}
		photos = append(photos, photo)
	}
	return filterPhotos(photos, filter), nil
}

func (e *Edge) AddPhoto(context.Context, Upload) (*Photo, error) {
	return nil, ErrUnsupported
}

func (e *Edge) UpdateCaption(context.Context, string, string) (*Photo, error) {
	return nil, ErrUnsupported
}

func (e *Edge) DeletePhoto(context.Context, string) error {
	return ErrUnsupported
}

func (e *Edge) ListJournal(_ context.Context, filter Filter) ([]JournalEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries, err := e.loadEntries()
	if err != nil {
		return nil, err
	}
	return filterJournal(entries, filter), nil
}

// AddJournal 作者缺省为 Anonymous，新条目插在最前面。
func (e *Edge) AddJournal(_ context.Context, in JournalInput) (*JournalEntry, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content required", ErrInvalidInput)
	}
	entry := JournalEntry{
		ID:        uuid.NewString(),
		Author:    defaultAuthor(in.Author),
		Content:   in.Content,
		DayNumber: in.DayNumber,
		CreatedAt: e.now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entries, err := e.loadEntries()
	if err != nil {
		return nil, err
	}
	entries = append([]JournalEntry{entry}, entries...)
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	if err := e.kv.Put([]byte(entriesKey), raw, nil); err != nil {
		return nil, fmt.Errorf("kv put %s: %w", entriesKey, err)
	}
	return &entry, nil
}

func (e *Edge) DeleteJournal(context.Context, string) error {
	return ErrUnsupported
}

func (e *Edge) AddReaction(context.Context, ReactionInput) (*Reaction, error) {
	return nil, ErrUnsupported
}

func (e *Edge) Reactions(context.Context, string, string) ([]ReactionCount, error) {
	return nil, ErrUnsupported
}

func (e *Edge) Stats(context.Context) (Stats, error) {
	return Stats{}, ErrUnsupported
}

// loadEntries 调用方必须持有 mu；键不存在时返回空列表。
func (e *Edge) loadEntries() ([]JournalEntry, error) {
	raw, err := e.kv.Get([]byte(entriesKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return []JournalEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", entriesKey, err)
	}
	var entries []JournalEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entriesKey, err)
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	return entries, nil
}
