package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/readers-ear/internal/audio"
	"github.com/dgnsrekt/readers-ear/internal/handles"
	"github.com/dgnsrekt/readers-ear/internal/store"
)

const (
	// DefaultFlushDelay is the metadata debounce window.
	DefaultFlushDelay = time.Second

	// Concurrent blob fetches during hydration
	hydrateConcurrency = 4
)

// Extractor transcribes the text visible in an image.
type Extractor interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Synthesizer converts text to raw 16-bit 24 kHz mono PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options configures a Manager. Blobs and Metadata are required.
type Options struct {
	Blobs       store.BlobStore
	Metadata    store.MetadataStore
	Handles     *handles.Cache
	Extractor   Extractor
	Synthesizer Synthesizer
	Logger      *log.Logger

	// FlushDelay is the quiescence window before metadata is saved
	FlushDelay time.Duration

	// Scheduler runs the debounced flush (defaults to time.AfterFunc)
	Scheduler Scheduler

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// Manager owns the history list. All methods are safe for concurrent use;
// state changes are applied atomically under a single lock, and external
// calls run with the lock released.
type Manager struct {
	blobs       store.BlobStore
	metadata    store.MetadataStore
	handles     *handles.Cache
	extractor   Extractor
	synthesizer Synthesizer
	logger      *log.Logger
	now         func() time.Time
	newID       func() string

	flusher *debouncer
	// Serializes snapshot saves
	flushMu sync.Mutex
	// Held for the whole of Hydrate
	hydrateMu sync.Mutex

	mu       sync.Mutex
	items    []*Item
	activeID string
	state    *stateMachine
	lastErr  string
	ready    bool
	closed   bool
}

// New creates a Manager. Call Hydrate before anything else.
func New(opts Options) *Manager {
	if opts.Handles == nil {
		opts.Handles = handles.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	m := &Manager{
		blobs:       opts.Blobs,
		metadata:    opts.Metadata,
		handles:     opts.Handles,
		extractor:   opts.Extractor,
		synthesizer: opts.Synthesizer,
		logger:      opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		state:       newStateMachine(),
	}
	m.flusher = newDebouncer(opts.Scheduler, opts.FlushDelay, func() {
		m.flush(context.Background())
	})
	return m
}

// Hydrate loads the metadata snapshot and fetches the audio of every record
// that claims to have some. Records whose blob is missing or unreadable are
// downgraded to HasAudio=false. An empty or unreadable snapshot yields a
// single blank item.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.hydrateMu.Lock()
	defer m.hydrateMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.ready {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	records, ok, err := m.metadata.LoadAll(ctx)
	if err != nil {
		m.logger.Warn("Failed to load history, starting fresh", "err", err)
		records, ok = nil, false
	}

	items, dirty := m.sanitize(records)
	if !ok || len(items) == 0 {
		items = []*Item{newItem(m.newID(), m.now())}
		dirty = true
	}

	blobs := m.fetchAudio(ctx, items)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for i, it := range items {
		if !it.HasAudio {
			continue
		}
		if blobs[i] == nil {
			it.HasAudio = false
			dirty = true
			continue
		}
		it.Audio = m.handles.Acquire(blobs[i])
	}

	m.items = items
	m.activeID = items[0].ID
	m.ready = true

	if dirty {
		m.flusher.Trigger()
	}

	m.logger.Debug("Hydrated history", "items", len(items), "handles", m.handles.Live())
	return nil
}

// sanitize drops records that cannot be addressed: empty or repeated ids.
func (m *Manager) sanitize(records []store.Record) ([]*Item, bool) {
	items := make([]*Item, 0, len(records))
	seen := make(map[string]bool, len(records))
	dirty := false

	for _, r := range records {
		if r.ID == "" || seen[r.ID] {
			m.logger.Warn("Dropping unusable history record", "id", r.ID)
			dirty = true
			continue
		}
		seen[r.ID] = true
		items = append(items, itemFromRecord(r))
	}
	return items, dirty
}

// fetchAudio returns the blob for every item with HasAudio, in item order.
// A failed or absent fetch leaves a nil entry.
func (m *Manager) fetchAudio(ctx context.Context, items []*Item) [][]byte {
	blobs := make([][]byte, len(items))

	var g errgroup.Group
	g.SetLimit(hydrateConcurrency)

	for i, it := range items {
		if !it.HasAudio {
			continue
		}
		g.Go(func() error {
			data, ok, err := m.blobs.Get(ctx, it.ID)
			switch {
			case err != nil:
				m.logger.Warn("Failed to load audio", "id", it.ID, "err", err)
			case !ok || len(data) == 0:
				m.logger.Warn("Audio missing, clearing flag", "id", it.ID)
			default:
				blobs[i] = data
			}
			// One item's audio never fails the whole hydration
			return nil
		})
	}
	_ = g.Wait()

	return blobs
}

// Items returns a copy of the list, newest first.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, len(m.items))
	for i, it := range m.items {
		out[i] = *it
	}
	return out
}

// Active returns the active item. Before hydration it returns the zero Item.
func (m *Manager) Active() Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it := m.activeLocked(); it != nil {
		return *it
	}
	return Item{}
}

// Find returns the item with id.
func (m *Manager) Find(id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, it := m.findLocked(id); it != nil {
		return *it, true
	}
	return Item{}, false
}

// Select makes id the active item.
func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	if _, it := m.findLocked(id); it == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	m.activeID = id
	return nil
}

// Status returns the global loading status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.Current()
}

// LastError returns the message of the last failed extraction or synthesis,
// or "" if the last attempt succeeded.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// EditText replaces the active item's text. Changing the text drops its
// audio handle and clears HasAudio; the stored blob is left in place.
func (m *Manager) EditText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}

	it := m.activeLocked()
	if text == it.Text {
		return nil
	}

	it.setText(text)
	m.invalidateLocked(it)
	m.flusher.Trigger()
	return nil
}

// CreateItem prepends a blank item, makes it active and clears the surfaced
// error.
func (m *Manager) CreateItem() (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return Item{}, err
	}

	it := newItem(m.newID(), m.now())
	m.items = append([]*Item{it}, m.items...)
	m.activeID = it.ID
	m.lastErr = ""
	m.flusher.Trigger()

	m.logger.Debug("Created item", "id", it.ID)
	return *it, nil
}

// DeleteItem removes the item with id together with its audio. The last
// remaining item is cleared in place instead. Blob deletion is best-effort.
func (m *Manager) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()

	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}

	idx, it := m.findLocked(id)
	if it == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	hadAudio := it.HasAudio
	m.invalidateLocked(it)

	if len(m.items) == 1 {
		it.setText("")
		it.epoch++
	} else {
		m.items = append(m.items[:idx], m.items[idx+1:]...)
		if m.activeID == id {
			// The item that followed takes its place
			next := min(idx, len(m.items)-1)
			m.activeID = m.items[next].ID
		}
	}
	m.flusher.Trigger()
	m.mu.Unlock()

	if hadAudio {
		if err := m.blobs.Delete(ctx, id); err != nil {
			m.logger.Error("Failed to delete audio blob", "id", id, "err", err)
		}
	}

	m.logger.Debug("Deleted item", "id", id, "audio", hadAudio)
	return nil
}

// GenerateAudio synthesizes speech for the active item and stores it. Blank
// text is a no-op. The item's previous audio is dropped before the call, so a
// failure leaves it with no audio.
func (m *Manager) GenerateAudio(ctx context.Context) error {
	m.mu.Lock()

	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	it := m.activeLocked()
	if strings.TrimSpace(it.Text) == "" {
		m.mu.Unlock()
		return nil
	}
	if m.synthesizer == nil {
		m.mu.Unlock()
		return errors.New("no speech synthesizer configured")
	}
	if !m.state.Transition(StatusGeneratingAudio) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, m.state.Current())
	}

	m.lastErr = ""
	if it.HasAudio {
		m.invalidateLocked(it)
		m.flusher.Trigger()
	}
	id, text, epoch := it.ID, it.Text, it.epoch
	m.mu.Unlock()

	m.logger.Debug("Generating audio", "id", id, "chars", len(text))

	wav, err := m.synthesize(ctx, id, text)
	orphan, err := m.finishGenerate(id, text, epoch, wav, err)

	if orphan {
		// Deleted mid-flight: its blob must not outlive it. Stay busy until
		// the blob is gone.
		if derr := m.blobs.Delete(ctx, id); derr != nil {
			m.logger.Warn("Failed to delete audio of deleted item", "id", id, "err", derr)
		}
		m.mu.Lock()
		m.state.Transition(StatusIdle)
		m.mu.Unlock()
	}
	return err
}

// finishGenerate applies a synthesis result to item id if it still exists
// with the same text and was not cleared by a delete. It reports whether a
// freshly stored blob has no item; the status is then left for the caller to
// reset.
func (m *Manager) finishGenerate(id, text string, epoch uint64, wav []byte, err error) (orphan bool, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if !orphan {
			m.state.Transition(StatusIdle)
		}
	}()

	if err != nil {
		m.lastErr = FormatError(err)
		m.logger.Error("Speech generation failed", "id", id, "err", err)
		return false, err
	}

	if m.closed {
		return false, ErrClosed
	}

	_, it := m.findLocked(id)
	if it == nil || it.epoch != epoch {
		m.lastErr = FormatError(ErrItemGone)
		return true, ErrItemGone
	}
	if it.Text != text {
		m.lastErr = FormatError(ErrTextChanged)
		return false, ErrTextChanged
	}

	m.invalidateLocked(it)
	it.Audio = m.handles.Acquire(wav)
	it.HasAudio = true
	m.flusher.Trigger()

	m.logger.Debug("Audio ready", "id", id, "bytes", len(wav))
	return false, nil
}

// synthesize calls the synthesizer, wraps the PCM in a WAV container and
// writes it to the blob store.
func (m *Manager) synthesize(ctx context.Context, id, text string) ([]byte, error) {
	pcm, err := m.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	wav, err := audio.EncodeWAV(pcm, audio.SpeechFormat())
	if err != nil {
		return nil, fmt.Errorf("encode audio: %w", err)
	}

	if err := m.blobs.Put(ctx, id, wav); err != nil {
		return nil, fmt.Errorf("save audio: %w", err)
	}
	return wav, nil
}

// ExtractFromImage transcribes image into the active item, replacing its
// text and dropping its audio. On failure the item is left untouched.
func (m *Manager) ExtractFromImage(ctx context.Context, image []byte, mimeType string) error {
	m.mu.Lock()

	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.extractor == nil {
		m.mu.Unlock()
		return errors.New("no text extractor configured")
	}
	if !m.state.Transition(StatusExtractingText) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, m.state.Current())
	}

	m.lastErr = ""
	active := m.activeLocked()
	id, epoch := active.ID, active.epoch
	m.mu.Unlock()

	m.logger.Debug("Extracting text", "id", id, "bytes", len(image), "mime", mimeType)

	text, err := m.extractor.ExtractText(ctx, image, mimeType)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Transition(StatusIdle)

	if err != nil {
		m.lastErr = FormatError(err)
		m.logger.Error("Text extraction failed", "id", id, "err", err)
		return err
	}

	if m.closed {
		return ErrClosed
	}

	_, it := m.findLocked(id)
	if it == nil || it.epoch != epoch {
		m.lastErr = FormatError(ErrItemGone)
		return ErrItemGone
	}

	it.setText(text)
	m.invalidateLocked(it)
	m.flusher.Trigger()
	return nil
}

// AudioHandle returns the live handle of item id.
func (m *Manager) AudioHandle(id string) (*handles.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, it := m.findLocked(id)
	if it == nil || it.Audio == nil {
		return nil, false
	}
	return it.Audio, true
}

// OpenAudio returns a reader over the WAV audio of item id.
func (m *Manager) OpenAudio(id string) (io.ReadSeeker, error) {
	h, ok := m.AudioHandle(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no audio", ErrItemNotFound, id)
	}
	return m.handles.Open(h)
}

// Flush saves the current snapshot now, cancelling any pending debounced
// save. Store failures are logged, not returned.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.mu.Unlock()

	m.flusher.Cancel()
	m.flush(ctx)
	return nil
}

// flush saves a snapshot taken after acquiring flushMu, so overlapping
// flushes save in order and the last one always reflects the latest state.
func (m *Manager) flush(ctx context.Context) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	records := make([]store.Record, len(m.items))
	for i, it := range m.items {
		records[i] = it.record()
	}
	m.mu.Unlock()

	if err := m.metadata.SaveAll(ctx, records); err != nil {
		m.logger.Warn("Failed to save history", "err", err)
		return
	}
	m.logger.Debug("Flushed history", "items", len(records))
}

// Close saves any pending snapshot, stops the debouncer and releases every
// audio handle. The Manager is unusable afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flusher.Stop() {
		m.flush(ctx)
	}

	m.mu.Lock()
	for _, it := range m.items {
		m.releaseLocked(it)
	}
	m.mu.Unlock()

	if leaked := m.handles.Drain(); leaked > 0 {
		m.logger.Warn("Released leaked audio handles", "count", leaked)
	}
	return nil
}

// Private helper methods

func (m *Manager) checkLocked() error {
	if m.closed {
		return ErrClosed
	}
	if !m.ready {
		return ErrNotReady
	}
	return nil
}

func (m *Manager) activeLocked() *Item {
	if _, it := m.findLocked(m.activeID); it != nil {
		return it
	}
	if len(m.items) > 0 {
		return m.items[0]
	}
	return nil
}

func (m *Manager) findLocked(id string) (int, *Item) {
	for i, it := range m.items {
		if it.ID == id {
			return i, it
		}
	}
	return -1, nil
}

// invalidateLocked drops the item's audio without touching the blob store.
func (m *Manager) invalidateLocked(it *Item) {
	m.releaseLocked(it)
	it.HasAudio = false
}

// releaseLocked returns the item's handle to the cache.
func (m *Manager) releaseLocked(it *Item) {
	if it.Audio == nil {
		return
	}
	if err := m.handles.Release(it.Audio); err != nil {
		m.logger.Error("Audio handle was not live", "id", it.ID, "handle", it.Audio.URL(), "err", err)
	}
	it.Audio = nil
}
