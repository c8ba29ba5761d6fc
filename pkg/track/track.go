// Package track defines the boundary to the external Track Decoder: the
// component that turns identifiers into playable, seekable tracks and tracks
// into opaque round-trippable tokens.
//
// The node never interprets a token; it only hands it back to the [Decoder]
// that produced it. Source resolution and decoding live behind these
// interfaces so that new sources can be plugged in without touching the
// playback engine.
package track

import (
	"context"
	"errors"
	"time"
)

// ErrUndecodable is returned by [Decoder.Decode] when a token cannot be
// turned back into a track.
var ErrUndecodable = errors.New("track: undecodable token")

// Info is the client-visible metadata of a track.
type Info struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	Length     int64  `json:"length"` // milliseconds
	Identifier string `json:"identifier"`
	URI        string `json:"uri"`
	IsStream   bool   `json:"isStream"`
	IsSeekable bool   `json:"isSeekable"`
	SourceName string `json:"sourceName"`
	Position   int64  `json:"position"` // milliseconds
}

// Track is a positioned, seekable PCM stream. Tracks produce interleaved
// 48 kHz stereo int16 samples ([audio.Output]).
//
// A Track is used by one player at a time and need not be safe for
// concurrent use.
type Track interface {
	// Info returns the track metadata.
	Info() Info

	// Position returns the decoder-reported playback position.
	Position() time.Duration

	// SetPosition seeks. Non-seekable tracks ignore it.
	SetPosition(pos time.Duration)

	// ReadPCM fills dst with up to len(dst) interleaved samples. It returns
	// (0, nil) when no data is available yet and io.EOF when the track has
	// ended.
	ReadPCM(dst []int16) (int, error)

	// Clone returns a fresh, unstarted copy of the track.
	Clone() Track

	// Close releases decoder resources.
	Close() error
}

// LoadType classifies a [LoadResult].
type LoadType string

const (
	LoadTrack    LoadType = "TRACK_LOADED"
	LoadPlaylist LoadType = "PLAYLIST_LOADED"
	LoadSearch   LoadType = "SEARCH_RESULT"
	LoadNoMatch  LoadType = "NO_MATCHES"
	LoadFailed   LoadType = "LOAD_FAILED"
)

// Entry pairs a track token with its metadata.
type Entry struct {
	Token string `json:"track"`
	Info  Info   `json:"info"`
}

// PlaylistInfo describes a loaded playlist.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadResult is the result of resolving an identifier.
type LoadResult struct {
	LoadType     LoadType      `json:"loadType"`
	Tracks       []Entry       `json:"tracks"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo,omitempty"`
	Cause        string        `json:"cause,omitempty"`
}

// Decoder converts between tokens and tracks and resolves identifiers.
//
// Implementations must be safe for concurrent use.
type Decoder interface {
	// Load resolves an identifier (URL, search query, ...) into tracks.
	Load(ctx context.Context, identifier string) (LoadResult, error)

	// Decode turns a token back into a fresh track.
	Decode(token string) (Track, error)

	// Encode turns a track into a token.
	Encode(t Track) (string, error)
}

// DecodeEntry decodes token and returns its [Entry] form.
func DecodeEntry(d Decoder, token string) (Entry, error) {
	t, err := d.Decode(token)
	if err != nil {
		return Entry{}, err
	}
	defer t.Close()
	return Entry{Token: token, Info: t.Info()}, nil
}
