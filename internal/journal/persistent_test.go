package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/donnelly-adventures/adventures/internal/media"
)

func TestNewPersistentInitialisesDocument(t *testing.T) {
	_, _, fs := newTestPersistent(t)

	raw, err := afero.ReadFile(fs, "/srv/data/donnelly.json")
	require.NoError(t, err)
	var doc map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "photos")
	require.Contains(t, doc, "journal")
	require.Contains(t, doc, "reactions")
	require.Empty(t, doc["photos"])
}

func TestAddPhotoUploadsAndPrepends(t *testing.T) {
	ctx := context.Background()
	p, host, _ := newTestPersistent(t)

	first, err := p.AddPhoto(ctx, Upload{
		Filename:    "beach.jpg",
		ContentType: "image/jpeg",
		Body:        strings.NewReader("jpeg"),
		Caption:     "Santa Monica",
		DayNumber:   intPtr(1),
	})
	require.NoError(t, err)
	require.Equal(t, AnonymousAuthor, first.UploadedBy)
	require.Equal(t, media.ResourceImage, first.Type)
	require.Equal(t, "donnelly-adventures/1", first.PublicID)

	second, err := p.AddPhoto(ctx, Upload{
		Filename:    "waves.mp4",
		ContentType: "video/mp4",
		Body:        strings.NewReader("mp4"),
		UploadedBy:  "Dad",
	})
	require.NoError(t, err)
	require.Equal(t, media.ResourceVideo, second.Type)
	require.Nil(t, second.DayNumber)

	photos, err := p.ListPhotos(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, photos, 2)
	require.Equal(t, second.ID, photos[0].ID, "新照片排在最前")

	asset := host.assets[first.PublicID]
	require.Equal(t, "Santa Monica", asset.Context[media.ContextCaption])
	require.Equal(t, "1", asset.Context[media.ContextDayNumber])
	require.Equal(t, []string{"california2026"}, asset.Tags)
}

func TestAddPhotoMediaFailureLeavesDocumentUntouched(t *testing.T) {
	ctx := context.Background()
	p, host, _ := newTestPersistent(t)
	host.failWith(errors.New("quota exceeded"))

	_, err := p.AddPhoto(ctx, Upload{Filename: "a.png", ContentType: "image/png", Body: strings.NewReader("png")})
	require.True(t, errors.Is(err, ErrMedia))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Photos)
}

func TestAddPhotoRequiresFile(t *testing.T) {
	p, _, _ := newTestPersistent(t)
	_, err := p.AddPhoto(context.Background(), Upload{})
	require.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDayFilter(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPersistent(t)
	for _, day := range []*int{intPtr(1), intPtr(2), nil, intPtr(2)} {
		_, err := p.AddJournal(ctx, JournalInput{Author: "Mom", Content: "entry", DayNumber: day})
		require.NoError(t, err)
	}

	all, err := p.ListJournal(ctx, ParseFilter(""))
	require.NoError(t, err)
	require.Len(t, all, 4)

	dayTwo, err := p.ListJournal(ctx, ParseFilter("2"))
	require.NoError(t, err)
	require.Len(t, dayTwo, 2)

	garbage, err := p.ListJournal(ctx, ParseFilter("two"))
	require.NoError(t, err)
	require.Empty(t, garbage, "无法解析的天数不匹配任何记录")
}

func TestAddJournalRequiresAuthorAndContent(t *testing.T) {
	p, _, _ := newTestPersistent(t)
	for _, in := range []JournalInput{{Author: "Mom"}, {Content: "hi"}, {Author: "  ", Content: "hi"}} {
		_, err := p.AddJournal(context.Background(), in)
		require.True(t, errors.Is(err, ErrInvalidInput))
		require.Contains(t, err.Error(), "Author and content required")
	}
}

func TestUpdateCaptionUpdatesHostAndRecord(t *testing.T) {
	ctx := context.Background()
	p, host, _ := newTestPersistent(t)
	photo, err := p.AddPhoto(ctx, Upload{Filename: "bridge.jpg", ContentType: "image/jpeg", Body: strings.NewReader("x"), Caption: "old"})
	require.NoError(t, err)

	updated, err := p.UpdateCaption(ctx, photo.ID, "Golden Gate at dawn")
	require.NoError(t, err)
	require.Equal(t, "Golden Gate at dawn", updated.Caption)
	require.Equal(t, "Golden Gate at dawn", host.assets[photo.PublicID].Context[media.ContextCaption])

	_, err = p.UpdateCaption(ctx, "missing", "x")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestDeletePhoto(t *testing.T) {
	ctx := context.Background()
	p, host, _ := newTestPersistent(t)
	photo, err := p.AddPhoto(ctx, Upload{Filename: "a.jpg", ContentType: "image/jpeg", Body: strings.NewReader("x")})
	require.NoError(t, err)

	require.True(t, errors.Is(p.DeletePhoto(ctx, "missing"), ErrNotFound))

	host.failWith(errors.New("cloud down"))
	require.True(t, errors.Is(p.DeletePhoto(ctx, photo.ID), ErrMedia))
	photos, err := p.ListPhotos(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, photos, 1, "媒体删除失败时保留记录")

	require.NoError(t, p.DeletePhoto(ctx, photo.ID))
	require.Equal(t, []string{photo.PublicID}, host.destroyed)
	photos, err = p.ListPhotos(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, photos)
}

func TestDeletePhotoWhenAssetAlreadyGone(t *testing.T) {
	ctx := context.Background()
	p, host, _ := newTestPersistent(t)
	photo, err := p.AddPhoto(ctx, Upload{Filename: "a.jpg", ContentType: "image/jpeg", Body: strings.NewReader("x")})
	require.NoError(t, err)
	delete(host.assets, photo.PublicID)

	require.NoError(t, p.DeletePhoto(ctx, photo.ID))
	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Photos)
}

func TestDeleteJournalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPersistent(t)
	entry, err := p.AddJournal(ctx, JournalInput{Author: "Mom", Content: "Arrived in LA"})
	require.NoError(t, err)

	require.NoError(t, p.DeleteJournal(ctx, entry.ID))
	require.NoError(t, p.DeleteJournal(ctx, entry.ID))
	entries, err := p.ListJournal(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReactionsGroupedInFirstSeenOrder(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPersistent(t)
	for _, emoji := range []string{"❤️", "😂", "❤️", "🔥", "😂", "❤️"} {
		_, err := p.AddReaction(ctx, ReactionInput{TargetType: "photo", TargetID: "p1", Emoji: emoji})
		require.NoError(t, err)
	}
	_, err := p.AddReaction(ctx, ReactionInput{TargetType: "journal", TargetID: "p1", Emoji: "🔥", Author: "Dad"})
	require.NoError(t, err)

	counts, err := p.Reactions(ctx, "photo", "p1")
	require.NoError(t, err)
	require.Equal(t, []ReactionCount{{Emoji: "❤️", Count: 3}, {Emoji: "😂", Count: 2}, {Emoji: "🔥", Count: 1}}, counts)

	none, err := p.Reactions(ctx, "photo", "unknown")
	require.NoError(t, err)
	require.NotNil(t, none, "空结果编码为 [] 而不是 null")
	require.Empty(t, none)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Photos: 0, JournalEntries: 0, Reactions: 7}, stats)
}

func TestConcurrentWritesAreSerialised(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPersistent(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.AddReaction(ctx, ReactionInput{TargetType: "photo", TargetID: "p1", Emoji: "👍"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	counts, err := p.Reactions(ctx, "photo", "p1")
	require.NoError(t, err)
	require.Equal(t, []ReactionCount{{Emoji: "👍", Count: 20}}, counts)
}

func TestPersistentRejectsCorruptDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/donnelly.json", []byte("{not json"), 0o644))
	_, err := NewPersistent(PersistentOptions{Fs: fs, DataFile: "/data/donnelly.json"}, newFakeHost())
	require.Error(t, err)
}
