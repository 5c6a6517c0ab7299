package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultSampleRate is assumed for raw PCM uploads.
	DefaultSampleRate = 16000
	// MinClipBytes is the smallest clip worth sending to a transcriber.
	MinClipBytes = 1000

	wavHeaderSize = 44
)

var ErrClipTooShort = errors.New("audio data too short or empty")

// Validate rejects clips too short to hold speech.
func Validate(clip []byte) error {
	if len(clip) < MinClipBytes {
		return fmt.Errorf("%w: %d bytes", ErrClipTooShort, len(clip))
	}
	return nil
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// EnsureWAV passes WAV clips through and wraps anything else as raw PCM16LE
// mono at sampleRate.
func EnsureWAV(clip []byte, sampleRate int) []byte {
	if IsWAV(clip) {
		return clip
	}
	return EncodeWAVPCM16LE(clip, sampleRate)
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		formatPCM     = 1
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	le := binary.LittleEndian
	out := make([]byte, wavHeaderSize, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], formatPCM)
	le.PutUint16(out[22:24], channels)
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	le.PutUint16(out[32:34], channels*bitsPerSample/8)
	le.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	return append(out, pcm...)
}
