// Package mock provides deterministic in-memory [track.Track] and
// [track.Decoder] implementations for tests.
//
// A mock track produces a constant sample value for a fixed number of
// frames. Its token has the form "mock:<value>:<frames>"; frames of -1 means
// endless, and a "stall" suffix makes the track return no data forever
// without ending.
package mock

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

// Compile-time interface assertions.
var (
	_ track.Track   = (*Track)(nil)
	_ track.Decoder = (*Decoder)(nil)
)

// Track is a constant-valued PCM track.
type Track struct {
	Value  int16
	Frames int // -1 = endless
	Stall  bool

	mu     sync.Mutex
	offset int // in interleaved samples
	closed bool
}

// New returns a track producing value for frames frames.
func New(value int16, frames int) *Track {
	return &Track{Value: value, Frames: frames}
}

// Token returns the mock token of t.
func (t *Track) Token() string {
	tok := fmt.Sprintf("mock:%d:%d", t.Value, t.Frames)
	if t.Stall {
		tok += ":stall"
	}
	return tok
}

// Info implements [track.Track].
func (t *Track) Info() track.Info {
	length := int64(-1)
	if t.Frames >= 0 {
		length = int64(t.Frames) * audio.FrameDuration.Milliseconds()
	}
	return track.Info{
		Title:      "mock " + strconv.Itoa(int(t.Value)),
		Author:     "mock",
		Length:     length,
		Identifier: t.Token(),
		URI:        t.Token(),
		IsStream:   t.Frames < 0,
		IsSeekable: t.Frames >= 0,
		SourceName: "mock",
		Position:   t.Position().Milliseconds(),
	}
}

// Position implements [track.Track].
func (t *Track) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.offset/audio.FrameLen) * audio.FrameDuration
}

// SetPosition implements [track.Track].
func (t *Track) SetPosition(pos time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = int(pos/audio.FrameDuration) * audio.FrameLen
}

// ReadPCM implements [track.Track].
func (t *Track) ReadPCM(dst []int16) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	if t.Stall {
		return 0, nil
	}
	n := len(dst)
	if t.Frames >= 0 {
		remaining := t.Frames*audio.FrameLen - t.offset
		if remaining <= 0 {
			return 0, io.EOF
		}
		n = min(n, remaining)
	}
	for i := range n {
		dst[i] = t.Value
	}
	t.offset += n
	return n, nil
}

// Clone implements [track.Track].
func (t *Track) Clone() track.Track {
	return &Track{Value: t.Value, Frames: t.Frames, Stall: t.Stall}
}

// Close implements [track.Track].
func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Decoder decodes mock tokens. Load resolves any identifier of the mock token
// form to a single track and everything else to NO_MATCHES, recording the
// identifiers it saw.
type Decoder struct {
	mu sync.Mutex

	// Loaded records identifiers passed to Load.
	Loaded []string

	// LoadError is returned by Load when non-nil.
	LoadError error
}

// Load implements [track.Decoder].
func (d *Decoder) Load(_ context.Context, identifier string) (track.LoadResult, error) {
	d.mu.Lock()
	d.Loaded = append(d.Loaded, identifier)
	err := d.LoadError
	d.mu.Unlock()
	if err != nil {
		return track.LoadResult{}, err
	}

	t, derr := d.Decode(identifier)
	if derr != nil {
		return track.LoadResult{LoadType: track.LoadNoMatch, Tracks: []track.Entry{}}, nil
	}
	return track.LoadResult{
		LoadType: track.LoadTrack,
		Tracks:   []track.Entry{{Token: identifier, Info: t.Info()}},
	}, nil
}

// LastLoaded returns the most recent identifier passed to Load.
func (d *Decoder) LastLoaded() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Loaded) == 0 {
		return ""
	}
	return d.Loaded[len(d.Loaded)-1]
}

// Decode implements [track.Decoder].
func (d *Decoder) Decode(token string) (track.Track, error) {
	parts := strings.Split(token, ":")
	if len(parts) < 3 || parts[0] != "mock" {
		return nil, track.ErrUndecodable
	}
	value, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrUndecodable, err)
	}
	frames, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrUndecodable, err)
	}
	t := New(int16(value), frames)
	t.Stall = len(parts) > 3 && parts[3] == "stall"
	return t, nil
}

// Encode implements [track.Decoder].
func (d *Decoder) Encode(t track.Track) (string, error) {
	mt, ok := t.(*Track)
	if !ok {
		return "", fmt.Errorf("mock: cannot encode %T", t)
	}
	return mt.Token(), nil
}
