package history

import (
	"time"

	"github.com/dgnsrekt/readers-ear/internal/handles"
	"github.com/dgnsrekt/readers-ear/internal/store"
)

const (
	previewLength = 50
	previewMarker = "..."
)

// Item is one reading session.
type Item struct {
	ID        string
	Text      string
	Preview   string
	CreatedAt time.Time

	// HasAudio is true iff a blob for ID exists and matches Text.
	HasAudio bool

	// Audio is the process-local handle, non-nil only while HasAudio.
	Audio *handles.Handle

	// epoch changes when a delete clears the item in place
	epoch uint64
}

// Preview returns the first 50 characters of text, followed by "..." when
// text is longer.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + previewMarker
}

func newItem(id string, now time.Time) *Item {
	return &Item{ID: id, CreatedAt: now}
}

func (it *Item) setText(text string) {
	it.Text = text
	it.Preview = Preview(text)
}

func (it *Item) record() store.Record {
	return store.Record{
		ID:        it.ID,
		Text:      it.Text,
		Preview:   it.Preview,
		CreatedAt: it.CreatedAt.UnixMilli(),
		HasAudio:  it.HasAudio,
	}
}

func itemFromRecord(r store.Record) *Item {
	it := &Item{
		ID:        r.ID,
		CreatedAt: r.CreatedTime(),
		HasAudio:  r.HasAudio,
	}
	// Preview is derived; never trust the stored copy.
	it.setText(r.Text)
	return it
}
