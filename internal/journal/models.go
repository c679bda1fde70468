// Package journal 实现照片、日记与表情回应的存储后端，提供持久化与 edge 两种变体。
package journal

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported 表示当前后端变体不提供该操作。
	ErrUnsupported = errors.New("operation not supported by backend")
	// ErrMedia 包装媒体托管服务的失败。
	ErrMedia = errors.New("media host failure")
)

// AnonymousAuthor 是缺省作者名。
const AnonymousAuthor = "Anonymous"

// Photo 是一张照片或一段视频的记录。
type Photo struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	PublicID   string    `json:"public_id"`
	Caption    string    `json:"caption"`
	UploadedBy string    `json:"uploaded_by"`
	DayNumber  *int      `json:"day_number"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalEntry 是一条文字日记。
type JournalEntry struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	DayNumber *int      `json:"day_number"`
	CreatedAt time.Time `json:"created_at"`
}

// Reaction 是对照片或日记的一次表情回应。
type Reaction struct {
	ID         string    `json:"id"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Emoji      string    `json:"emoji"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReactionCount 是按表情分组后的计数。
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

type Stats struct {
	Photos         int `json:"photos"`
	JournalEntries int `json:"journal_entries"`
	Reactions      int `json:"reactions"`
}

// Upload 描述一次照片/视频上传。
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Caption     string
	UploadedBy  string
	DayNumber   *int
}

type JournalInput struct {
	Author    string
	Content   string
	DayNumber *int
}

type ReactionInput struct {
	TargetType string
	TargetID   string
	Emoji      string
	Author     string
}

// Capabilities 声明后端变体支持的操作，REST 层据此决定路由行为。
type Capabilities struct {
	Variant        string `json:"variant"`
	UploadPhotos   bool   `json:"upload_photos"`
	EditCaptions   bool   `json:"edit_captions"`
	DeletePhotos   bool   `json:"delete_photos"`
	DeleteJournal  bool   `json:"delete_journal"`
	Reactions      bool   `json:"reactions"`
	Stats          bool   `json:"stats"`
	JournalAckOnly bool   `json:"journal_ack_only"`
}

// Backend 是两种部署变体共享的存储接口。
type Backend interface {
	Capabilities() Capabilities
	ListPhotos(ctx context.Context, filter Filter) ([]Photo, error)
	AddPhoto(ctx context.Context, in Upload) (*Photo, error)
	UpdateCaption(ctx context.Context, id, caption string) (*Photo, error)
	DeletePhoto(ctx context.Context, id string) error
	ListJournal(ctx context.Context, filter Filter) ([]JournalEntry, error)
	AddJournal(ctx context.Context, in JournalInput) (*JournalEntry, error)
	DeleteJournal(ctx context.Context, id string) error
	AddReaction(ctx context.Context, in ReactionInput) (*Reaction, error)
	Reactions(ctx context.Context, targetType, targetID string) ([]ReactionCount, error)
	Stats(ctx context.Context) (Stats, error)
}

// Filter 是列表接口的天数过滤条件。
type Filter struct {
	HasDay bool
	// Day 为 nil 且 HasDay 为 true 时表示参数无法解析，不匹配任何记录。
	Day *int
}

// ParseFilter 解析 ?day= 参数：空值不过滤，非整数不匹配任何记录。
func ParseFilter(raw string) Filter {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Filter{}
	}
	day, err := strconv.Atoi(raw)
	if err != nil {
		return Filter{HasDay: true}
	}
	return Filter{HasDay: true, Day: &day}
}

// Matches 判断记录的天数是否满足过滤条件。
func (f Filter) Matches(day *int) bool {
	if !f.HasDay {
		return true
	}
	if f.Day == nil || day == nil {
		return false
	}
	return *day == *f.Day
}

// GroupReactions 按表情分组计数，保持表情首次出现的顺序。
func GroupReactions(reactions []Reaction, targetType, targetID string) []ReactionCount {
	counts := []ReactionCount{}
	index := map[string]int{}
	for _, r := range reactions {
		if r.TargetType != targetType || r.TargetID != targetID {
			continue
		}
		if i, ok := index[r.Emoji]; ok {
			counts[i].Count++
			continue
		}
		index[r.Emoji] = len(counts)
		counts = append(counts, ReactionCount{Emoji: r.Emoji, Count: 1})
	}
	return counts
}

func defaultAuthor(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return AnonymousAuthor
	}
	return name
}

func filterPhotos(photos []Photo, filter Filter) []Photo {
	out := make([]Photo, 0, len(photos))
	for _, p := range photos {
		if filter.Matches(p.DayNumber) {
			out = append(out, p)
		}
	}
	return out
}

func filterJournal(entries []JournalEntry, filter Filter) []JournalEntry {
	out := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		if filter.Matches(e.DayNumber) {
			out = append(out, e)
		}
	}
	return out
}
