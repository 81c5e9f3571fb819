package engines

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/readers-ear/internal/audio"
)

// Mock is an offline engine. Extraction returns the image bytes as text and
// synthesis produces a short tone per word.
type Mock struct {
	// Delay is applied before every call returns
	Delay time.Duration

	// Err, when set, is returned by every call
	Err error

	// Hooks run at the start of each call
	OnExtract    func()
	OnSynthesize func()

	mu              sync.Mutex
	extractCalls    int
	synthesizeCalls int
}

// NewMock creates a mock engine with no delay.
func NewMock() *Mock {
	return &Mock{}
}

// ExtractText echoes image back as text.
func (m *Mock) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	m.mu.Lock()
	m.extractCalls++
	hook := m.OnExtract
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if len(image) == 0 {
		return "", fmt.Errorf("%w: no image data", ErrEmptyInput)
	}
	return string(image), nil
}

// Synthesize returns 150ms of tone per word at 24 kHz.
func (m *Mock) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	m.synthesizeCalls++
	hook := m.OnSynthesize
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	words := len(strings.Fields(text))
	if words == 0 {
		return nil, fmt.Errorf("%w: Text is empty", ErrEmptyInput)
	}
	return audio.Tone(440, time.Duration(words)*150*time.Millisecond, audio.SpeechFormat()), nil
}

// Calls returns how many times each method was invoked.
func (m *Mock) Calls() (extract, synthesize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls, m.synthesizeCalls
}

func (m *Mock) wait(ctx context.Context) error {
	m.mu.Lock()
	delay, err := m.Delay, m.Err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
