package track

import (
	"context"
	"errors"
	"fmt"
)

// Chain combines decoders into one. Load asks each decoder in order and
// returns the first result other than NO_MATCHES; Decode and Encode use the
// first decoder that accepts the token or track.
func Chain(decoders ...Decoder) Decoder {
	if len(decoders) == 1 {
		return decoders[0]
	}
	return chain(decoders)
}

type chain []Decoder

func (c chain) Load(ctx context.Context, identifier string) (LoadResult, error) {
	var errs []error
	for _, d := range c {
		res, err := d.Load(ctx, identifier)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.LoadType != LoadNoMatch {
			return res, nil
		}
	}
	if len(errs) > 0 {
		return LoadResult{}, errors.Join(errs...)
	}
	return LoadResult{LoadType: LoadNoMatch, Tracks: []Entry{}}, nil
}

func (c chain) Decode(token string) (Track, error) {
	for _, d := range c {
		if t, err := d.Decode(token); err == nil {
			return t, nil
		}
	}
	return nil, ErrUndecodable
}

func (c chain) Encode(t Track) (string, error) {
	for _, d := range c {
		if tok, err := d.Encode(t); err == nil {
			return tok, nil
		}
	}
	return "", fmt.Errorf("track: no decoder encodes %T", t)
}
