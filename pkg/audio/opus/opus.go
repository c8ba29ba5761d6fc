// Package opus wraps the gopus encoder for the node's wire codec: 48 kHz
// stereo Opus at 20 ms per frame.
package opus

import (
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/natanbc/andesite/pkg/audio"
)

// maxPacketBytes bounds one encoded packet.
const maxPacketBytes = 4000

// defaultBitrate matches what Discord voice expects from music bots.
const defaultBitrate = 128000

// ErrClosed is returned by [Encoder.Encode] after [Encoder.Close].
var ErrClosed = errors.New("opus: encoder closed")

// Encoder encodes one PCM frame at a time. It is not safe for concurrent use;
// every producer owns its own Encoder.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates an encoder configured for [audio.Output].
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	enc.SetBitrate(defaultBitrate)
	return &Encoder{enc: enc}, nil
}

// Encode encodes exactly one frame of interleaved PCM ([audio.FrameLen]
// samples) into an Opus packet. The returned slice is owned by the caller.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if e.enc == nil {
		return nil, ErrClosed
	}
	if len(pcm) != audio.FrameLen {
		return nil, fmt.Errorf("opus: encode: frame has %d samples, want %d", len(pcm), audio.FrameLen)
	}
	packet, err := e.enc.Encode(pcm, audio.FrameSamples, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

// Close releases the encoder. gopus frees the native state on GC; Close only
// makes further use fail fast.
func (e *Encoder) Close() {
	e.enc = nil
}
