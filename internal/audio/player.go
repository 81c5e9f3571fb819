package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// ErrContextMismatch is returned when audio with a different format is played
// after the process-wide oto context was created.
var ErrContextMismatch = errors.New("audio format differs from the open audio context")

// oto allows exactly one context per process.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat PCMFormat
	otoErr    error
)

func otoContext(format PCMFormat) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}

		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready

		otoCtx = ctx
		otoFormat = format
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if format != otoFormat {
		return nil, fmt.Errorf("%w: have %d Hz/%d ch, got %d Hz/%d ch", ErrContextMismatch,
			otoFormat.SampleRate, otoFormat.Channels, format.SampleRate, format.Channels)
	}
	return otoCtx, nil
}

// Player plays WAV audio on the default output device.
type Player struct {
	logger *log.Logger

	// Poll interval while waiting for playback to finish
	tick time.Duration

	mu      sync.Mutex
	current *oto.Player
	// Keeps the PCM alive while oto reads from it
	data []byte
}

// NewPlayer creates a player. The audio device is opened on the first Play.
func NewPlayer(logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Default()
	}
	return &Player{logger: logger, tick: 20 * time.Millisecond}
}

// Play decodes wav and blocks until playback finishes or ctx is done.
func (p *Player) Play(ctx context.Context, wav []byte) error {
	format, pcm, err := DecodeWAV(wav)
	if err != nil {
		return err
	}
	if format.BitDepth != 16 {
		return fmt.Errorf("%w: %d-bit playback", ErrUnsupportedWAV, format.BitDepth)
	}
	if len(pcm) == 0 {
		return ErrEmptyPCM
	}

	octx, err := otoContext(format)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return errors.New("player is busy")
	}
	player := octx.NewPlayer(bytes.NewReader(pcm))
	p.current = player
	p.data = pcm
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		player.Pause()
		p.current = nil
		p.data = nil
		p.mu.Unlock()
	}()

	p.logger.Debug("Starting playback", "bytes", len(pcm), "duration", format.Duration(len(pcm)))
	player.Play()

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := player.Err(); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}
