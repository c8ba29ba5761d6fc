// Package wavfile is a [track.Decoder] for local WAV files. It is the node's
// built-in reference source: files below a configured root directory are
// decoded fully into memory, converted to 48 kHz stereo and served as
// seekable tracks.
package wavfile

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

// Compile-time interface assertions.
var (
	_ track.Decoder = (*Decoder)(nil)
	_ track.Track   = (*Track)(nil)
)

// sourceName is reported in [track.Info.SourceName].
const sourceName = "local"

// tokenPrefix versions the token format.
const tokenPrefix = "wav1:"

// Decoder resolves WAV files under Root.
type Decoder struct {
	root string

	mu    sync.Mutex
	cache map[string][]int16 // absolute path -> converted PCM
}

// New creates a Decoder serving files below root.
func New(root string) (*Decoder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("wavfile: resolve root %q: %w", root, err)
	}
	return &Decoder{root: abs, cache: make(map[string][]int16)}, nil
}

// tokenData is the JSON payload carried in a token.
type tokenData struct {
	Path  string `json:"p"`
	Title string `json:"t"`
}

// Load implements [track.Decoder]. Identifiers are paths relative to the root
// or file:// URLs; anything else yields NO_MATCHES.
func (d *Decoder) Load(ctx context.Context, identifier string) (track.LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return track.LoadResult{}, err
	}
	path, ok := d.resolve(identifier)
	if !ok {
		return track.LoadResult{LoadType: track.LoadNoMatch, Tracks: []track.Entry{}}, nil
	}
	t, err := d.open(path)
	if errors.Is(err, os.ErrNotExist) {
		return track.LoadResult{LoadType: track.LoadNoMatch, Tracks: []track.Entry{}}, nil
	}
	if err != nil {
		return track.LoadResult{LoadType: track.LoadFailed, Tracks: []track.Entry{}, Cause: err.Error()}, nil
	}
	token, err := d.Encode(t)
	if err != nil {
		return track.LoadResult{}, err
	}
	return track.LoadResult{
		LoadType: track.LoadTrack,
		Tracks:   []track.Entry{{Token: token, Info: t.Info()}},
	}, nil
}

// Decode implements [track.Decoder].
func (d *Decoder) Decode(token string) (track.Track, error) {
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, track.ErrUndecodable
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrUndecodable, err)
	}
	var td tokenData
	if err := json.Unmarshal(b, &td); err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrUndecodable, err)
	}
	path, ok := d.resolve(td.Path)
	if !ok {
		return nil, track.ErrUndecodable
	}
	return d.open(path)
}

// Encode implements [track.Decoder].
func (d *Decoder) Encode(t track.Track) (string, error) {
	wt, ok := t.(*Track)
	if !ok {
		return "", fmt.Errorf("wavfile: cannot encode %T", t)
	}
	rel, err := filepath.Rel(d.root, wt.path)
	if err != nil {
		return "", fmt.Errorf("wavfile: encode: %w", err)
	}
	b, err := json.Marshal(tokenData{Path: filepath.ToSlash(rel), Title: wt.title})
	if err != nil {
		return "", fmt.Errorf("wavfile: encode: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// resolve maps an identifier to an absolute path under the root.
func (d *Decoder) resolve(identifier string) (string, bool) {
	p := identifier
	if u, err := url.Parse(identifier); err == nil && u.Scheme == "file" {
		p = u.Path
	} else if err == nil && u.Scheme != "" {
		return "", false
	}
	if !strings.EqualFold(filepath.Ext(p), ".wav") {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(d.root, filepath.FromSlash(p))
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(d.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

// open returns a fresh track for path, decoding it on first use.
func (d *Decoder) open(path string) (*Track, error) {
	d.mu.Lock()
	pcm, ok := d.cache[path]
	d.mu.Unlock()
	if !ok {
		var err error
		pcm, err = decodeFile(path)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cache[path] = pcm
		d.mu.Unlock()
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Track{path: path, title: title, pcm: pcm}, nil
}

// decodeFile reads the whole WAV file and converts it to [audio.Output].
func decodeFile(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}
	return toOutput(buf, int(dec.BitDepth)), nil
}

// toOutput scales samples to 16 bit and converts to 48 kHz stereo.
func toOutput(buf *goaudio.IntBuffer, bitDepth int) []int16 {
	pcm := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch bitDepth {
		case 8:
			pcm[i] = int16((v - 128) << 8)
		case 24:
			pcm[i] = int16(v >> 8)
		case 32:
			pcm[i] = int16(v >> 16)
		default:
			pcm[i] = int16(v)
		}
	}
	src := audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	conv := audio.Converter{Target: audio.Output}
	return conv.Convert(pcm, src)
}

// Track is an in-memory WAV track. The PCM slice is shared between clones
// and never mutated.
type Track struct {
	path  string
	title string
	pcm   []int16

	offset int
}

// Info implements [track.Track].
func (t *Track) Info() track.Info {
	return track.Info{
		Title:      t.title,
		Author:     "unknown",
		Length:     samplesToDuration(len(t.pcm)).Milliseconds(),
		Identifier: t.path,
		URI:        "file://" + filepath.ToSlash(t.path),
		IsSeekable: true,
		SourceName: sourceName,
		Position:   t.Position().Milliseconds(),
	}
}

// Position implements [track.Track].
func (t *Track) Position() time.Duration { return samplesToDuration(t.offset) }

// SetPosition implements [track.Track].
func (t *Track) SetPosition(pos time.Duration) {
	off := int(pos.Seconds()*audio.SampleRate) * audio.Channels
	t.offset = max(0, min(off, len(t.pcm)))
}

// ReadPCM implements [track.Track].
func (t *Track) ReadPCM(dst []int16) (int, error) {
	if t.offset >= len(t.pcm) {
		return 0, io.EOF
	}
	n := copy(dst, t.pcm[t.offset:])
	t.offset += n
	return n, nil
}

// Clone implements [track.Track].
func (t *Track) Clone() track.Track {
	return &Track{path: t.path, title: t.title, pcm: t.pcm}
}

// Close implements [track.Track].
func (t *Track) Close() error { return nil }

func samplesToDuration(n int) time.Duration {
	return time.Duration(n/audio.Channels) * time.Second / audio.SampleRate
}
