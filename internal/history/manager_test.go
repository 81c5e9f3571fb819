package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readers-ear/internal/audio"
	"github.com/dgnsrekt/readers-ear/internal/store"
)

var ctx = context.Background()

func seedRecords() []store.Record {
	return []store.Record{
		{ID: "newest", Text: "Second reading", Preview: "Second reading", CreatedAt: 1700000002000, HasAudio: true},
		{ID: "oldest", Text: "First reading", Preview: "First reading", CreatedAt: 1700000001000},
	}
}

func TestHydrate_Empty(t *testing.T) {
	f := hydrated(t, nil)

	items := f.m.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Empty(t, items[0].Text)
	assert.False(t, items[0].HasAudio)
	assert.Equal(t, items[0].ID, f.m.Active().ID)

	// A blank history is written back on the next flush
	assert.Equal(t, 1, f.sched.Pending())
}

func TestHydrate_EmptySnapshot(t *testing.T) {
	f := hydrated(t, []store.Record{})

	require.Len(t, f.m.Items(), 1)
	assert.Equal(t, "item-1", f.m.Active().ID)
}

func TestHydrate_LoadFailure(t *testing.T) {
	f := newFixture(t, seedRecords())
	f.meta.FailOn(store.OpLoadAll, store.ErrUnavailable)

	require.NoError(t, f.m.Hydrate(ctx))
	require.Len(t, f.m.Items(), 1)
	assert.Equal(t, "item-1", f.m.Active().ID)
}

func TestHydrate_WithAudio(t *testing.T) {
	f := newFixture(t, seedRecords())
	require.NoError(t, f.blobs.Put(ctx, "newest", []byte("RIFF....WAVE")))

	require.NoError(t, f.m.Hydrate(ctx))

	items := f.m.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "newest", items[0].ID)
	assert.Equal(t, "oldest", items[1].ID)
	assert.Equal(t, "newest", f.m.Active().ID)

	assert.True(t, items[0].HasAudio)
	require.NotNil(t, items[0].Audio)
	assert.Equal(t, time.UnixMilli(1700000002000), items[0].CreatedAt)
	f.requireHandlesMatchAudio(t)

	// Nothing changed, so nothing to write
	assert.Equal(t, 0, f.sched.Pending())
}

func TestHydrate_SelfHealsMissingBlob(t *testing.T) {
	f := hydrated(t, seedRecords())

	it, ok := f.m.Find("newest")
	require.True(t, ok)
	assert.False(t, it.HasAudio)
	assert.Nil(t, it.Audio)
	assert.Equal(t, 0, f.cache.Live())

	// The corrected flag is persisted
	require.Equal(t, 1, f.sched.Fire())
	saves := f.meta.Saves()
	require.Len(t, saves, 1)
	assert.False(t, saves[0][0].HasAudio)
}

func TestHydrate_SelfHealsFailedFetch(t *testing.T) {
	f := newFixture(t, seedRecords())
	require.NoError(t, f.blobs.Put(ctx, "newest", []byte("RIFF")))
	f.blobs.FailOn(store.OpGet, store.ErrIO)

	require.NoError(t, f.m.Hydrate(ctx))

	it, _ := f.m.Find("newest")
	assert.False(t, it.HasAudio)
	f.requireHandlesMatchAudio(t)
}

func TestHydrate_ManyBlobs(t *testing.T) {
	var records []store.Record
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		records = append(records, store.Record{ID: id, Text: id, HasAudio: true})
	}

	f := newFixture(t, records)
	for i := 0; i < 20; i += 2 {
		id := string(rune('a' + i))
		require.NoError(t, f.blobs.Put(ctx, id, []byte(id)))
	}

	require.NoError(t, f.m.Hydrate(ctx))
	assert.Equal(t, 10, f.audioItems())
	f.requireHandlesMatchAudio(t)

	for i, it := range f.m.Items() {
		assert.Equal(t, string(rune('a'+i)), it.ID, "order preserved")
	}
}

func TestHydrate_DropsUnusableRecords(t *testing.T) {
	f := hydrated(t, []store.Record{
		{ID: "", Text: "no id"},
		{ID: "a", Text: "first"},
		{ID: "a", Text: "duplicate"},
	})

	items := f.m.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "first", items[0].Text)
}

func TestHydrate_RecomputesPreview(t *testing.T) {
	long := strings.Repeat("y", 80)
	f := hydrated(t, []store.Record{{ID: "a", Text: long, Preview: "stale"}})

	assert.Equal(t, strings.Repeat("y", 50)+"...", f.m.Active().Preview)
}

func TestHydrate_Idempotent(t *testing.T) {
	f := hydrated(t, nil)
	id := f.m.Active().ID

	require.NoError(t, f.m.Hydrate(ctx))
	assert.Equal(t, id, f.m.Active().ID)
	require.Len(t, f.m.Items(), 1)
}

func TestHydrate_ConcurrentCallers(t *testing.T) {
	seed := []store.Record{
		{ID: "a", Text: "first", HasAudio: true},
		{ID: "b", Text: "second", HasAudio: true},
	}

	for run := 0; run < 50; run++ {
		f := newFixture(t, seed)
		require.NoError(t, f.blobs.Put(ctx, "a", []byte("RIFF-a")))
		require.NoError(t, f.blobs.Put(ctx, "b", []byte("RIFF-b")))

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, f.m.Hydrate(ctx))
			}()
		}
		wg.Wait()

		require.Len(t, f.m.Items(), 2)
		require.Equal(t, 2, f.cache.Live(), "one handle per audio item")
		f.requireHandlesMatchAudio(t)
	}
}

func TestNotReady(t *testing.T) {
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.m.EditText("x"), ErrNotReady)
	_, err := f.m.CreateItem()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, f.m.DeleteItem(ctx, "x"), ErrNotReady)
	assert.ErrorIs(t, f.m.GenerateAudio(ctx), ErrNotReady)
	assert.ErrorIs(t, f.m.ExtractFromImage(ctx, []byte("x"), ""), ErrNotReady)
	assert.ErrorIs(t, f.m.Select("x"), ErrNotReady)
	assert.ErrorIs(t, f.m.Flush(ctx), ErrNotReady)
	assert.Equal(t, Item{}, f.m.Active())
}

func TestScenario_CreateAndEdit(t *testing.T) {
	f := hydrated(t, nil)

	created, err := f.m.CreateItem()
	require.NoError(t, err)
	require.NoError(t, f.m.EditText("Hello world"))

	active := f.m.Active()
	assert.Equal(t, created.ID, active.ID)
	assert.Equal(t, "Hello world", active.Text)
	assert.Equal(t, "Hello world", active.Preview)
	assert.False(t, active.HasAudio)

	items := f.m.Items()
	require.Len(t, items, 2)
	assert.Equal(t, created.ID, items[0].ID, "new items are prepended")
}

func TestScenario_LongPreview(t *testing.T) {
	f := hydrated(t, nil)

	require.NoError(t, f.m.EditText(strings.Repeat("X", 60)))
	assert.Equal(t, strings.Repeat("X", 50)+"...", f.m.Active().Preview)
}

func TestSelect(t *testing.T) {
	f := hydrated(t, seedRecords())

	require.NoError(t, f.m.Select("oldest"))
	assert.Equal(t, "oldest", f.m.Active().ID)

	require.NoError(t, f.m.EditText("changed"))
	it, _ := f.m.Find("oldest")
	assert.Equal(t, "changed", it.Text)
	it, _ = f.m.Find("newest")
	assert.Equal(t, "Second reading", it.Text)

	assert.ErrorIs(t, f.m.Select("missing"), ErrItemNotFound)
	assert.Equal(t, "oldest", f.m.Active().ID)
}

func TestGenerateAudio(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Read this aloud"))

	require.NoError(t, f.m.GenerateAudio(ctx))

	active := f.m.Active()
	assert.True(t, active.HasAudio)
	require.NotNil(t, active.Audio)
	assert.Equal(t, StatusIdle, f.m.Status())
	assert.Empty(t, f.m.LastError())
	f.requireHandlesMatchAudio(t)

	// The blob is a WAV at the speech format
	data, ok, err := f.blobs.Get(ctx, active.ID)
	require.NoError(t, err)
	require.True(t, ok)
	format, pcm, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, audio.SpeechFormat(), format)
	assert.NotEmpty(t, pcm)

	r, err := f.m.OpenAudio(active.ID)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestGenerateAudio_Regenerate(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("again and again"))

	for i := 0; i < 3; i++ {
		require.NoError(t, f.m.GenerateAudio(ctx))
		f.requireHandlesMatchAudio(t)
	}
	assert.Equal(t, 1, f.cache.Live())
	assert.Equal(t, 1, f.blobs.Len())
}

func TestGenerateAudio_BlankTextIsNoop(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("   \n\t"))

	require.NoError(t, f.m.GenerateAudio(ctx))

	_, synth := f.engine.Calls()
	assert.Equal(t, 0, synth)
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, StatusIdle, f.m.Status())
}

func TestGenerateAudio_SynthesisFailure(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Hello"))
	require.NoError(t, f.m.GenerateAudio(ctx))

	f.engine.Err = errors.New(`{"error":{"code":429,"message":"Resource has been exhausted"}}`)
	err := f.m.GenerateAudio(ctx)
	require.Error(t, err)

	active := f.m.Active()
	assert.False(t, active.HasAudio, "old audio is dropped before the call")
	assert.Equal(t, "Resource has been exhausted", f.m.LastError())
	assert.Equal(t, StatusIdle, f.m.Status())
	f.requireHandlesMatchAudio(t)
}

func TestGenerateAudio_StoreFailure(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Hello"))
	f.blobs.FailOn(store.OpPut, store.ErrIO)

	err := f.m.GenerateAudio(ctx)
	assert.ErrorIs(t, err, store.ErrIO)
	assert.False(t, f.m.Active().HasAudio)
	assert.NotEmpty(t, f.m.LastError())
	f.requireHandlesMatchAudio(t)

	// The next attempt clears the surfaced error
	f.blobs.FailOn(store.OpPut, nil)
	require.NoError(t, f.m.GenerateAudio(ctx))
	assert.Empty(t, f.m.LastError())
}

func TestGenerateAudio_Busy(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Slow synthesis"))

	started := make(chan struct{})
	release := make(chan struct{})
	f.engine.OnSynthesize = func() {
		close(started)
		<-release
	}

	var wg sync.WaitGroup
	var genErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		genErr = f.m.GenerateAudio(ctx)
	}()

	<-started
	assert.Equal(t, StatusGeneratingAudio, f.m.Status())
	assert.ErrorIs(t, f.m.GenerateAudio(ctx), ErrBusy)
	assert.ErrorIs(t, f.m.ExtractFromImage(ctx, []byte("img"), ""), ErrBusy)

	// Editing is still allowed while busy
	_, err := f.m.CreateItem()
	require.NoError(t, err)

	close(release)
	wg.Wait()

	require.NoError(t, genErr)
	assert.Equal(t, StatusIdle, f.m.Status())
	f.requireHandlesMatchAudio(t)
}

func TestGenerateAudio_ItemDeletedMidFlight(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Doomed"))
	doomed := f.m.Active().ID
	_, err := f.m.CreateItem()
	require.NoError(t, err)
	require.NoError(t, f.m.Select(doomed))

	f.engine.OnSynthesize = func() {
		assert.NoError(t, f.m.DeleteItem(ctx, doomed))
	}

	err = f.m.GenerateAudio(ctx)
	assert.ErrorIs(t, err, ErrItemGone)

	_, ok := f.m.Find(doomed)
	assert.False(t, ok)
	assert.False(t, f.blobs.Contains(doomed), "blob of a deleted item is removed")
	assert.Equal(t, StatusIdle, f.m.Status())
	f.requireHandlesMatchAudio(t)
}

func TestGenerateAudio_SoleItemDeletedMidFlight(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Only item"))
	id := f.m.Active().ID

	f.engine.OnSynthesize = func() {
		assert.NoError(t, f.m.DeleteItem(ctx, id))
	}

	err := f.m.GenerateAudio(ctx)
	assert.ErrorIs(t, err, ErrItemGone)

	it, ok := f.m.Find(id)
	require.True(t, ok, "the last item is cleared, not removed")
	assert.Empty(t, it.Text)
	assert.False(t, it.HasAudio)
	assert.False(t, f.blobs.Contains(id), "blob of a cleared item is removed")
	assert.Equal(t, StatusIdle, f.m.Status())
	f.requireHandlesMatchAudio(t)

	// The cleared item is usable again
	f.engine.OnSynthesize = nil
	require.NoError(t, f.m.EditText("Fresh start"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	assert.True(t, f.blobs.Contains(id))
}

func TestGenerateAudio_TextChangedMidFlight(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Original"))
	id := f.m.Active().ID

	f.engine.OnSynthesize = func() {
		assert.NoError(t, f.m.EditText("Edited while synthesizing"))
	}

	err := f.m.GenerateAudio(ctx)
	assert.ErrorIs(t, err, ErrTextChanged)

	it, _ := f.m.Find(id)
	assert.Equal(t, "Edited while synthesizing", it.Text)
	assert.False(t, it.HasAudio)
	f.requireHandlesMatchAudio(t)
}

func TestEditText_InvalidatesAudio(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Hello"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	id := f.m.Active().ID
	require.Equal(t, 1, f.cache.Live())

	// Same text keeps the audio
	require.NoError(t, f.m.EditText("Hello"))
	assert.True(t, f.m.Active().HasAudio)

	require.NoError(t, f.m.EditText("Hello!"))

	active := f.m.Active()
	assert.False(t, active.HasAudio)
	assert.Nil(t, active.Audio)
	assert.Equal(t, 0, f.cache.Live())
	assert.True(t, f.blobs.Contains(id), "edit leaves the blob in place")
	assert.Equal(t, 0, f.blobs.Stats().Deletes)
}

func TestDeleteItem_RemovesBlob(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Keep"))
	_, err := f.m.CreateItem()
	require.NoError(t, err)
	require.NoError(t, f.m.EditText("Delete me"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	id := f.m.Active().ID

	require.NoError(t, f.m.DeleteItem(ctx, id))

	_, ok, err := f.blobs.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	_, found := f.m.Find(id)
	assert.False(t, found)
	f.requireHandlesMatchAudio(t)
}

func TestDeleteItem_BlobFailureIsSwallowed(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Hello"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	f.blobs.FailOn(store.OpDelete, store.ErrIO)

	require.NoError(t, f.m.DeleteItem(ctx, f.m.Active().ID))
	assert.Equal(t, 0, f.cache.Live())
}

func TestDeleteItem_SoleItem(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Only one"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	before := f.m.Active()

	require.NoError(t, f.m.DeleteItem(ctx, before.ID))

	items := f.m.Items()
	require.Len(t, items, 1)
	assert.Equal(t, before.ID, items[0].ID)
	assert.Equal(t, before.CreatedAt, items[0].CreatedAt)
	assert.Empty(t, items[0].Text)
	assert.Empty(t, items[0].Preview)
	assert.False(t, items[0].HasAudio)
	assert.Equal(t, before.ID, f.m.Active().ID)
	assert.False(t, f.blobs.Contains(before.ID))
	f.requireHandlesMatchAudio(t)
}

func TestDeleteItem_ActiveMovesToNext(t *testing.T) {
	f := hydrated(t, []store.Record{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	require.NoError(t, f.m.Select("b"))
	require.NoError(t, f.m.DeleteItem(ctx, "b"))
	assert.Equal(t, "c", f.m.Active().ID)

	require.NoError(t, f.m.DeleteItem(ctx, "c"))
	assert.Equal(t, "a", f.m.Active().ID, "last item falls back to its predecessor")
}

func TestDeleteItem_InactiveKeepsActive(t *testing.T) {
	f := hydrated(t, []store.Record{{ID: "a"}, {ID: "b"}})

	require.NoError(t, f.m.DeleteItem(ctx, "b"))
	assert.Equal(t, "a", f.m.Active().ID)

	assert.ErrorIs(t, f.m.DeleteItem(ctx, "b"), ErrItemNotFound)
}

func TestExtractFromImage(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("old"))
	require.NoError(t, f.m.GenerateAudio(ctx))

	require.NoError(t, f.m.ExtractFromImage(ctx, []byte("Text from a photo"), "image/png"))

	active := f.m.Active()
	assert.Equal(t, "Text from a photo", active.Text)
	assert.Equal(t, "Text from a photo", active.Preview)
	assert.False(t, active.HasAudio)
	assert.Equal(t, StatusIdle, f.m.Status())
	f.requireHandlesMatchAudio(t)
}

func TestExtractFromImage_Failure(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("untouched"))
	require.NoError(t, f.m.GenerateAudio(ctx))

	f.engine.Err = errors.New("API Key is missing. Please check your environment variables.")
	err := f.m.ExtractFromImage(ctx, []byte("img"), "image/png")
	require.Error(t, err)

	active := f.m.Active()
	assert.Equal(t, "untouched", active.Text)
	assert.True(t, active.HasAudio, "failed extraction leaves audio alone")
	assert.Equal(t, "API Key is missing. Please check your environment variables.", f.m.LastError())
	assert.Equal(t, StatusIdle, f.m.Status())
}

func TestExtractFromImage_ItemDeletedMidFlight(t *testing.T) {
	f := hydrated(t, []store.Record{{ID: "a"}, {ID: "b"}})

	f.engine.OnExtract = func() {
		assert.NoError(t, f.m.DeleteItem(ctx, "a"))
	}

	err := f.m.ExtractFromImage(ctx, []byte("text"), "")
	assert.ErrorIs(t, err, ErrItemGone)

	it, _ := f.m.Find("b")
	assert.Empty(t, it.Text, "result is not applied to another item")
}

func TestExtractFromImage_SoleItemDeletedMidFlight(t *testing.T) {
	f := hydrated(t, nil)
	id := f.m.Active().ID

	f.engine.OnExtract = func() {
		assert.NoError(t, f.m.DeleteItem(ctx, id))
	}

	err := f.m.ExtractFromImage(ctx, []byte("text"), "")
	assert.ErrorIs(t, err, ErrItemGone)

	it, _ := f.m.Find(id)
	assert.Empty(t, it.Text, "result is not applied to the cleared item")
}

func TestCreateItem_ClearsError(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Hello"))
	f.engine.Err = errors.New("boom")
	require.Error(t, f.m.GenerateAudio(ctx))
	require.Equal(t, "boom", f.m.LastError())

	_, err := f.m.CreateItem()
	require.NoError(t, err)
	assert.Empty(t, f.m.LastError())
}

func TestDebounceCoalescing(t *testing.T) {
	f := hydrated(t, []store.Record{{ID: "a"}})
	require.Equal(t, 0, f.sched.Pending())

	for _, text := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		require.NoError(t, f.m.EditText(text))
	}
	assert.Empty(t, f.meta.Saves(), "nothing saved inside the window")
	assert.Equal(t, 1, f.sched.Pending())

	require.Equal(t, 1, f.sched.Fire())

	saves := f.meta.Saves()
	require.Len(t, saves, 1)
	require.Len(t, saves[0], 1)
	assert.Equal(t, "Hello", saves[0][0].Text)
}

func TestMetadataRoundTrip(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("First"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	_, err := f.m.CreateItem()
	require.NoError(t, err)
	require.NoError(t, f.m.EditText("Second"))
	require.NoError(t, f.m.Flush(ctx))

	saved, ok, err := f.meta.LoadAll(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	items := f.m.Items()
	require.Len(t, saved, len(items))
	for i, it := range items {
		assert.Equal(t, it.ID, saved[i].ID)
		assert.Equal(t, it.Text, saved[i].Text)
		assert.Equal(t, it.Preview, saved[i].Preview)
		assert.Equal(t, it.CreatedAt.UnixMilli(), saved[i].CreatedAt)
		assert.Equal(t, it.HasAudio, saved[i].HasAudio)
	}

	// A second manager over the same stores sees the same history
	g := New(Options{Blobs: f.blobs, Metadata: f.meta, Logger: quietLogger, Scheduler: &manualScheduler{}})
	require.NoError(t, g.Hydrate(ctx))
	defer g.Close(ctx)

	reloaded := g.Items()
	require.Len(t, reloaded, 2)
	assert.Equal(t, "Second", reloaded[0].Text)
	assert.True(t, reloaded[1].HasAudio)
	assert.NotNil(t, reloaded[1].Audio)
}

func TestFlush_MetadataFailureIsSwallowed(t *testing.T) {
	f := hydrated(t, nil)
	f.meta.FailOn(store.OpSaveAll, store.ErrIO)

	require.NoError(t, f.m.EditText("Hello"))
	assert.NoError(t, f.m.Flush(ctx))
	assert.Empty(t, f.meta.Saves())
	assert.Equal(t, 0, f.sched.Pending())

	// Later saves still go through once the store recovers
	f.meta.FailOn(store.OpSaveAll, nil)
	require.NoError(t, f.m.EditText("Hello again"))
	require.Equal(t, 1, f.sched.Fire())
	assert.Len(t, f.meta.Saves(), 1)
}

func TestFlush_CancelsPending(t *testing.T) {
	f := hydrated(t, []store.Record{{ID: "a"}})
	require.NoError(t, f.m.EditText("Hello"))
	require.Equal(t, 1, f.sched.Pending())

	require.NoError(t, f.m.Flush(ctx))
	assert.Equal(t, 0, f.sched.Pending())
	assert.Len(t, f.meta.Saves(), 1)
}

func TestClose(t *testing.T) {
	f := hydrated(t, nil)
	require.NoError(t, f.m.EditText("Pending"))
	require.NoError(t, f.m.GenerateAudio(ctx))
	require.Equal(t, 1, f.cache.Live())

	require.NoError(t, f.m.Close(ctx))

	saves := f.meta.Saves()
	require.Len(t, saves, 1, "pending snapshot saved on close")
	assert.Equal(t, "Pending", saves[0][0].Text)
	assert.True(t, saves[0][0].HasAudio)
	assert.Equal(t, 0, f.cache.Live(), "all handles released")

	assert.ErrorIs(t, f.m.EditText("late"), ErrClosed)
	assert.ErrorIs(t, f.m.Hydrate(ctx), ErrClosed)
	assert.NoError(t, f.m.Close(ctx))
}

// slowMetadata blocks every SaveAll until release is closed.
type slowMetadata struct {
	*store.MemoryMetadataStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowMetadata) SaveAll(ctx context.Context, records []store.Record) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.MemoryMetadataStore.SaveAll(ctx, records)
}

func TestClose_WaitsForRunningFlush(t *testing.T) {
	meta := &slowMetadata{
		MemoryMetadataStore: store.NewMemoryMetadataStore(),
		started:             make(chan struct{}),
		release:             make(chan struct{}),
	}
	meta.Seed([]store.Record{{ID: "a", Text: "before"}})

	sched := &manualScheduler{}
	m := New(Options{
		Blobs:     store.NewMemoryBlobStore(),
		Metadata:  meta,
		Logger:    quietLogger,
		Scheduler: sched,
	})
	require.NoError(t, m.Hydrate(ctx))
	require.NoError(t, m.EditText("after"))

	go sched.Fire()
	<-meta.started

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, m.Close(ctx))
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a save was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(meta.release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the save finished")
	}

	saves := meta.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, "after", saves[0][0].Text)
}

func TestRealSchedulerFlush(t *testing.T) {
	meta := store.NewMemoryMetadataStore()
	m := New(Options{
		Blobs:      store.NewMemoryBlobStore(),
		Metadata:   meta,
		Logger:     quietLogger,
		FlushDelay: 10 * time.Millisecond,
	})
	require.NoError(t, m.Hydrate(ctx))
	defer m.Close(ctx)

	require.NoError(t, m.EditText("eventually saved"))

	assert.Eventually(t, func() bool {
		saves := meta.Saves()
		return len(saves) > 0 && saves[len(saves)-1][0].Text == "eventually saved"
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentMutations(t *testing.T) {
	f := hydrated(t, nil)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				switch j % 4 {
				case 0:
					_, _ = f.m.CreateItem()
				case 1:
					_ = f.m.EditText(strings.Repeat("w ", j+1))
				case 2:
					_ = f.m.GenerateAudio(ctx)
				case 3:
					items := f.m.Items()
					_ = f.m.DeleteItem(ctx, items[len(items)-1].ID)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, f.m.Items())
	assert.Equal(t, StatusIdle, f.m.Status())
	f.requireHandlesMatchAudio(t)
}
