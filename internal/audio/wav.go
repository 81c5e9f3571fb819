package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Errors returned while parsing WAV data.
var (
	ErrEmptyPCM       = errors.New("empty PCM data")
	ErrInvalidWAV     = errors.New("invalid WAV data")
	ErrUnsupportedWAV = errors.New("unsupported WAV format")
)

const wavHeaderSize = 44

// PCMFormat describes signed little-endian integer PCM.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// SpeechFormat is the format returned by the speech synthesis service:
// 24 kHz, mono, 16-bit.
func SpeechFormat() PCMFormat {
	return PCMFormat{
		SampleRate: 24000,
		Channels:   1,
		BitDepth:   16,
	}
}

// BytesPerFrame returns the number of bytes holding one sample of every channel.
func (f PCMFormat) BytesPerFrame() int {
	return f.BitDepth / 8 * f.Channels
}

// ByteRate returns bytes per second of audio.
func (f PCMFormat) ByteRate() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Validate checks that the format can be written to a WAV header.
func (f PCMFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedWAV, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, f.Channels)
	}
	if f.BitDepth != 8 && f.BitDepth != 16 {
		return fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, f.BitDepth)
	}
	return nil
}

// Duration returns the playback length of dataLen bytes of PCM.
func (f PCMFormat) Duration(dataLen int) time.Duration {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(dataLen) * int64(time.Second) / int64(rate))
}

// EncodeWAV prepends a canonical 44-byte RIFF header to pcm. A trailing
// partial frame is dropped.
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyPCM
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	frame := format.BytesPerFrame()
	pcm = pcm[:len(pcm)-len(pcm)%frame]
	dataLen := len(pcm)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataLen))
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(format.Channels))
	_ = binary.Write(buf, le, uint32(format.SampleRate))
	_ = binary.Write(buf, le, uint32(format.ByteRate()))
	_ = binary.Write(buf, le, uint16(frame))
	_ = binary.Write(buf, le, uint16(format.BitDepth))

	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV returns the format and PCM payload of a WAV file. Chunks other
// than "fmt " and "data" are skipped.
func DecodeWAV(wav []byte) (PCMFormat, []byte, error) {
	var format PCMFormat

	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return format, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	le := binary.LittleEndian
	haveFmt := false
	pos := 12

	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(le.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(wav) {
			// Streams sometimes write a bogus data size; take what is there.
			if id == "data" && haveFmt {
				size = len(wav) - body
			} else {
				return format, nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return format, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if tag := le.Uint16(wav[body : body+2]); tag != 1 {
				return format, nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, tag)
			}
			format.Channels = int(le.Uint16(wav[body+2 : body+4]))
			format.SampleRate = int(le.Uint32(wav[body+4 : body+8]))
			format.BitDepth = int(le.Uint16(wav[body+14 : body+16]))
			if err := format.Validate(); err != nil {
				return format, nil, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return format, nil, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}
			return format, wav[body : body+size], nil
		}

		// Chunks are word aligned
		pos = body + size + size%2
	}

	return format, nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// Tone generates a 16-bit sine wave of the given frequency and length,
// faded in and out to avoid clicks.
func Tone(freq float64, d time.Duration, format PCMFormat) []byte {
	frames := int(int64(format.SampleRate) * int64(d) / int64(time.Second))
	out := make([]byte, 0, frames*format.BytesPerFrame())
	fade := format.SampleRate / 100

	for i := 0; i < frames; i++ {
		amp := 0.3
		if i < fade {
			amp *= float64(i) / float64(fade)
		} else if frames-i < fade {
			amp *= float64(frames-i) / float64(fade)
		}
		v := int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate)))
		for c := 0; c < format.Channels; c++ {
			out = binary.LittleEndian.AppendUint16(out, uint16(v))
		}
	}
	return out
}
