package engines

import (
	"context"
	"fmt"
)

// Engine names accepted by New.
const (
	NameGemini = "gemini"
	NameMock   = "mock"
)

// Engine transcribes images and synthesizes speech.
type Engine interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// New returns the engine registered under name.
func New(name string, config GeminiConfig) (Engine, error) {
	switch name {
	case NameGemini, "":
		return NewGemini(config), nil
	case NameMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}
