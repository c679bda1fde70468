package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/donnelly-adventures/adventures/internal/media"
)

// document 是 JSON 数据文件的完整结构。
type document struct {
	Photos    []Photo        `json:"photos"`
	Journal   []JournalEntry `json:"journal"`
	Reactions []Reaction     `json:"reactions"`
}

// PersistentOptions 配置持久化变体。
type PersistentOptions struct {
	Fs       afero.Fs
	DataFile string
	Tag      string
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

// Persistent 把所有记录保存在一个 JSON 文件里，每次操作整读整写；媒体文件交给媒体托管服务。
type Persistent struct {
	fs     afero.Fs
	path   string
	tag    string
	media  media.Host
	logger logrus.FieldLogger
	now    func() time.Time

	mu sync.Mutex
}

var _ Backend = (*Persistent)(nil)

// NewPersistent 打开数据文件，文件不存在时写入空文档。
func NewPersistent(opts PersistentOptions, host media.Host) (*Persistent, error) {
	if opts.DataFile == "" {
		return nil, fmt.Errorf("data file required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Persistent{
		fs:     opts.Fs,
		path:   opts.DataFile,
		tag:    opts.Tag,
		media:  host,
		logger: opts.Logger,
		now:    opts.Now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	if err := p.write(doc); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persistent) Capabilities() Capabilities {
	return Capabilities{
		Variant:       "persistent",
		UploadPhotos:  true,
		EditCaptions:  true,
		DeletePhotos:  true,
		DeleteJournal: true,
		Reactions:     true,
		Stats:         true,
	}
}

func (p *Persistent) ListPhotos(_ context.Context, filter Filter) ([]Photo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	return filterPhotos(doc.Photos, filter), nil
}

// AddPhoto 先上传媒体文件，成功后把记录插到列表最前面。
func (p *Persistent) AddPhoto(ctx context.Context, in Upload) (*Photo, error) {
	if in.Body == nil {
		return nil, fmt.Errorf("%w: No file uploaded", ErrInvalidInput)
	}
	if p.media == nil {
		return nil, fmt.Errorf("%w: %w", ErrMedia, media.ErrNotConfigured)
	}

	uploadedBy := defaultAuthor(in.UploadedBy)
	values := map[string]string{
		media.ContextCaption:    in.Caption,
		media.ContextUploadedBy: uploadedBy,
	}
	if in.DayNumber != nil {
		values[media.ContextDayNumber] = strconv.Itoa(*in.DayNumber)
	}
	var tags []string
	if p.tag != "" {
		tags = []string{p.tag}
	}

	asset, err := p.media.Upload(ctx, media.UploadInput{
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Size:        in.Size,
		Body:        in.Body,
		Context:     values,
		Tags:        tags,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMedia, err)
	}

	photo := Photo{
		ID:         uuid.NewString(),
		URL:        asset.URL,
		PublicID:   asset.PublicID,
		Caption:    in.Caption,
		UploadedBy: uploadedBy,
		DayNumber:  in.DayNumber,
		Type:       media.ResourceTypeFor(in.ContentType),
		CreatedAt:  p.now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	doc.Photos = append([]Photo{photo}, doc.Photos...)
	if err := p.write(doc); err != nil {
		return nil, err
	}
	return &photo, nil
}

// UpdateCaption 同时更新媒体托管上的上下文与本地记录。
func (p *Persistent) UpdateCaption(ctx context.Context, id, caption string) (*Photo, error) {
	photo, err := p.findPhoto(id)
	if err != nil {
		return nil, err
	}
	if p.media != nil {
		if err := p.media.UpdateContext(ctx, photo.PublicID, photo.Type, map[string]string{media.ContextCaption: caption}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMedia, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Photos {
		if doc.Photos[i].ID != id {
			continue
		}
		doc.Photos[i].Caption = caption
		if err := p.write(doc); err != nil {
			return nil, err
		}
		updated := doc.Photos[i]
		return &updated, nil
	}
	return nil, fmt.Errorf("photo %s: %w", id, ErrNotFound)
}

// DeletePhoto 先删除媒体资源再删除记录；媒体端已不存在时仍删除记录。
func (p *Persistent) DeletePhoto(ctx context.Context, id string) error {
	photo, err := p.findPhoto(id)
	if err != nil {
		return err
	}
	if p.media != nil {
		err := p.media.Destroy(ctx, photo.PublicID, photo.Type)
		switch {
		case errors.Is(err, media.ErrNotFound):
			p.logger.WithField("public_id", photo.PublicID).Warn("media_asset_already_gone")
		case err != nil:
			return fmt.Errorf("%w: %w", ErrMedia, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return err
	}
	kept := doc.Photos[:0]
	for _, existing := range doc.Photos {
		if existing.ID != id {
			kept = append(kept, existing)
		}
	}
	doc.Photos = kept
	return p.write(doc)
}

func (p *Persistent) ListJournal(_ context.Context, filter Filter) ([]JournalEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	return filterJournal(doc.Journal, filter), nil
}

func (p *Persistent) AddJournal(_ context.Context, in JournalInput) (*JournalEntry, error) {
	author := strings.TrimSpace(in.Author)
	content := strings.TrimSpace(in.Content)
	if author == "" || content == "" {
		return nil, fmt.Errorf("%w: Author and content required", ErrInvalidInput)
	}
	entry := JournalEntry{
		ID:        uuid.NewString(),
		Author:    author,
		Content:   in.Content,
		DayNumber: in.DayNumber,
		CreatedAt: p.now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	doc.Journal = append([]JournalEntry{entry}, doc.Journal...)
	if err := p.write(doc); err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteJournal 删除指定日记；不存在的 id 视为已删除。
func (p *Persistent) DeleteJournal(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return err
	}
	kept := doc.Journal[:0]
	for _, e := range doc.Journal {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	doc.Journal = kept
	return p.write(doc)
}

func (p *Persistent) AddReaction(_ context.Context, in ReactionInput) (*Reaction, error) {
	if strings.TrimSpace(in.TargetType) == "" || strings.TrimSpace(in.TargetID) == "" || strings.TrimSpace(in.Emoji) == "" {
		return nil, fmt.Errorf("%w: target_type, target_id and emoji required", ErrInvalidInput)
	}
	reaction := Reaction{
		ID:         uuid.NewString(),
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Emoji:      in.Emoji,
		Author:     defaultAuthor(in.Author),
		CreatedAt:  p.now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	doc.Reactions = append(doc.Reactions, reaction)
	if err := p.write(doc); err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (p *Persistent) Reactions(_ context.Context, targetType, targetID string) ([]ReactionCount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	return GroupReactions(doc.Reactions, targetType, targetID), nil
}

func (p *Persistent) Stats(_ context.Context) (Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Photos:         len(doc.Photos),
		JournalEntries: len(doc.Journal),
		Reactions:      len(doc.Reactions),
	}, nil
}

func (p *Persistent) findPhoto(id string) (Photo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.read()
	if err != nil {
		return Photo{}, err
	}
	for _, photo := range doc.Photos {
		if photo.ID == id {
			return photo, nil
		}
	}
	return Photo{}, fmt.Errorf("photo %s: %w", id, ErrNotFound)
}

// read 调用方必须持有 mu。
func (p *Persistent) read() (*document, error) {
	raw, err := afero.ReadFile(p.fs, p.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Photos: []Photo{}, Journal: []JournalEntry{}, Reactions: []Reaction{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	var doc document
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.path, err)
		}
	}
	if doc.Photos == nil {
		doc.Photos = []Photo{}
	}
	if doc.Journal == nil {
		doc.Journal = []JournalEntry{}
	}
	if doc.Reactions == nil {
		doc.Reactions = []Reaction{}
	}
	return &doc, nil
}

// write 先写临时文件再 rename，避免读到半截文档。调用方必须持有 mu。
func (p *Persistent) write(doc *document) error {
	dir := filepath.Dir(p.path)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := afero.TempFile(p.fs, dir, ".donnelly-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = p.fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = p.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := p.fs.Rename(tmpName, p.path); err != nil {
		_ = p.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", p.path, err)
	}
	return nil
}
