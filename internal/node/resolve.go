package node

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/natanbc/andesite/internal/observe"
	"github.com/natanbc/andesite/internal/resilience"
	"github.com/natanbc/andesite/pkg/track"
)

// rawPrefix marks an identifier that must be passed to the decoder as is.
const rawPrefix = "raw:"

// ResolveIdentifier classifies identifier the way [Node.LoadTracks] does:
// absolute URLs and known search prefixes pass through, "raw:" is stripped
// and anything else gets searchPrefix when autoSearch is set.
func ResolveIdentifier(identifier string, autoSearch bool, searchPrefix string, known []string) string {
	if isURL(identifier) {
		return identifier
	}
	for _, p := range known {
		if strings.HasPrefix(identifier, p) {
			return identifier
		}
	}
	if rest, ok := strings.CutPrefix(identifier, rawPrefix); ok {
		return rest
	}
	if autoSearch {
		return searchPrefix + identifier
	}
	return identifier
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Scheme == "file"
}

// LoadTracks resolves identifier into tracks. Decoder failures and an open
// breaker are reported as a LOAD_FAILED result, not as an error.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (track.LoadResult, error) {
	if identifier == "" {
		return track.LoadResult{}, inputf("identifier is empty")
	}
	ctx, span := observe.StartSpan(ctx, "node.load_tracks")
	defer span.End()

	search := n.search.Load()
	id := ResolveIdentifier(identifier, search.AutoSearch, search.Prefix, search.Prefixes)
	start := time.Now()
	var res track.LoadResult
	err := n.breaker.Execute(func() error {
		var lerr error
		res, lerr = n.decoder.Load(ctx, id)
		return lerr
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		res = track.LoadResult{LoadType: track.LoadFailed, Cause: "track loading temporarily unavailable"}
	case err != nil:
		observe.LoggerFrom(ctx, n.log).Warn("node: load tracks failed", "identifier", id, "err", err)
		res = track.LoadResult{LoadType: track.LoadFailed, Cause: err.Error()}
	}
	if res.Tracks == nil {
		res.Tracks = []track.Entry{}
	}
	n.metrics.RecordTrackLoad(ctx, string(res.LoadType), time.Since(start).Seconds())
	return res, nil
}

// DecodeTrack returns the metadata of a token.
func (n *Node) DecodeTrack(token string) (track.Entry, error) {
	e, err := track.DecodeEntry(n.decoder, token)
	if err != nil {
		return track.Entry{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return e, nil
}

// DecodeTracks decodes every token, failing on the first undecodable one.
func (n *Node) DecodeTracks(tokens []string) ([]track.Entry, error) {
	out := make([]track.Entry, 0, len(tokens))
	for i, tok := range tokens {
		e, err := n.DecodeTrack(tok)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
