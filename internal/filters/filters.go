// Package filters holds the per-player DSP filter configuration.
//
// A [Configuration] carries one parameter set per filter [Kind]. A kind is
// configured when any of its parameters differs from the default by at least
// [Epsilon]; only configured kinds are placed into the processing chain, in
// the fixed order of [Kinds].
package filters

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Epsilon is the smallest difference from a default that counts as a change.
const Epsilon = 0.01

// ErrInvalid is wrapped by every error caused by bad client input.
var ErrInvalid = errors.New("filters: invalid parameter")

// Kind enumerates the filter kinds.
type Kind int

const (
	KindEqualizer Kind = iota
	KindKaraoke
	KindTimescale
	KindTremolo
	KindVibrato
	KindVolume
	KindChannelMix
	KindLowPass
	KindRotation
)

// Kinds lists every kind in chain order.
var Kinds = []Kind{
	KindEqualizer,
	KindKaraoke,
	KindTimescale,
	KindTremolo,
	KindVibrato,
	KindVolume,
	KindChannelMix,
	KindLowPass,
	KindRotation,
}

var kindNames = [...]string{
	KindEqualizer:  "equalizer",
	KindKaraoke:    "karaoke",
	KindTimescale:  "timescale",
	KindTremolo:    "tremolo",
	KindVibrato:    "vibrato",
	KindVolume:     "volume",
	KindChannelMix: "channelMix",
	KindLowPass:    "lowPass",
	KindRotation:   "rotation",
}

// String returns the wire name of k.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// BandCount is the number of equalizer bands.
const BandCount = 15

// Equalizer gains are multipliers added on top of the dry signal.
type Equalizer struct {
	Bands [BandCount]float64 `json:"bands"`
}

// Band is one entry of an equalizer update.
type Band struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// UnmarshalJSON merges a list of {band, gain} entries into e. Bands not
// named keep their value.
func (e *Equalizer) UnmarshalJSON(b []byte) error {
	var in struct {
		Bands []Band `json:"bands"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	for _, band := range in.Bands {
		if band.Band < 0 || band.Band >= BandCount {
			return fmt.Errorf("%w: equalizer band %d out of range", ErrInvalid, band.Band)
		}
		e.Bands[band.Band] = band.Gain
	}
	return nil
}

type Karaoke struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

type Tremolo struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Vibrato struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Volume struct {
	Volume float64 `json:"volume"`
}

type ChannelMix struct {
	LeftToLeft   float64 `json:"leftToLeft"`
	LeftToRight  float64 `json:"leftToRight"`
	RightToLeft  float64 `json:"rightToLeft"`
	RightToRight float64 `json:"rightToRight"`
}

type LowPass struct {
	Smoothing float64 `json:"smoothing"`
}

type Rotation struct {
	Hz float64 `json:"rotationHz"`
}

// Defaults.
var (
	DefaultEqualizer  = Equalizer{}
	DefaultKaraoke    = Karaoke{Level: 1, MonoLevel: 1, FilterBand: 220, FilterWidth: 100}
	DefaultTimescale  = Timescale{Speed: 1, Pitch: 1, Rate: 1}
	DefaultTremolo    = Tremolo{Frequency: 2, Depth: 0.5}
	DefaultVibrato    = Vibrato{Frequency: 2, Depth: 0.5}
	DefaultVolume     = Volume{Volume: 1}
	DefaultChannelMix = ChannelMix{LeftToLeft: 1, RightToRight: 1}
	DefaultLowPass    = LowPass{Smoothing: 20}
	DefaultRotation   = Rotation{}
)

// Configuration is the filter state of one player. It is not safe for
// concurrent use; chains built from it own a snapshot of the parameters.
type Configuration struct {
	Equalizer  Equalizer
	Karaoke    Karaoke
	Timescale  Timescale
	Tremolo    Tremolo
	Vibrato    Vibrato
	Volume     Volume
	ChannelMix ChannelMix
	LowPass    LowPass
	Rotation   Rotation
}

// New returns a configuration with every kind at its default.
func New() *Configuration {
	return &Configuration{
		Equalizer:  DefaultEqualizer,
		Karaoke:    DefaultKaraoke,
		Timescale:  DefaultTimescale,
		Tremolo:    DefaultTremolo,
		Vibrato:    DefaultVibrato,
		Volume:     DefaultVolume,
		ChannelMix: DefaultChannelMix,
		LowPass:    DefaultLowPass,
		Rotation:   DefaultRotation,
	}
}

func changed(v, def float64) bool {
	return math.Abs(v-def) >= Epsilon
}

// Configured reports whether kind differs from its default.
func (c *Configuration) Configured(kind Kind) bool {
	switch kind {
	case KindEqualizer:
		for _, g := range c.Equalizer.Bands {
			if changed(g, 0) {
				return true
			}
		}
		return false
	case KindKaraoke:
		k, d := c.Karaoke, DefaultKaraoke
		return changed(k.Level, d.Level) || changed(k.MonoLevel, d.MonoLevel) ||
			changed(k.FilterBand, d.FilterBand) || changed(k.FilterWidth, d.FilterWidth)
	case KindTimescale:
		t, d := c.Timescale, DefaultTimescale
		return changed(t.Speed, d.Speed) || changed(t.Pitch, d.Pitch) || changed(t.Rate, d.Rate)
	case KindTremolo:
		t, d := c.Tremolo, DefaultTremolo
		return changed(t.Frequency, d.Frequency) || changed(t.Depth, d.Depth)
	case KindVibrato:
		v, d := c.Vibrato, DefaultVibrato
		return changed(v.Frequency, d.Frequency) || changed(v.Depth, d.Depth)
	case KindVolume:
		return changed(c.Volume.Volume, DefaultVolume.Volume)
	case KindChannelMix:
		m, d := c.ChannelMix, DefaultChannelMix
		return changed(m.LeftToLeft, d.LeftToLeft) || changed(m.LeftToRight, d.LeftToRight) ||
			changed(m.RightToLeft, d.RightToLeft) || changed(m.RightToRight, d.RightToRight)
	case KindLowPass:
		return changed(c.LowPass.Smoothing, DefaultLowPass.Smoothing)
	case KindRotation:
		return changed(c.Rotation.Hz, DefaultRotation.Hz)
	}
	return false
}

// IsEnabled reports whether any kind is configured.
func (c *Configuration) IsEnabled() bool {
	for _, k := range Kinds {
		if c.Configured(k) {
			return true
		}
	}
	return false
}

// Speed returns how much source audio one unit of output consumes. It is 1
// unless the timescale filter is configured.
func (c *Configuration) Speed() float64 {
	if !c.Configured(KindTimescale) {
		return 1
	}
	t := c.Timescale
	return t.Speed * t.Pitch * t.Rate
}

// Factory returns a constructor for the processing chain, or nil when no
// kind is configured and PCM should pass through untouched. Each call of
// the returned function yields a chain with fresh DSP state.
func (c *Configuration) Factory() Factory {
	var builders []func() Stage
	for _, k := range Kinds {
		if !c.Configured(k) {
			continue
		}
		builders = append(builders, c.stageBuilder(k))
	}
	if len(builders) == 0 {
		return nil
	}
	return func() *Chain {
		ch := &Chain{stages: make([]Stage, len(builders))}
		for i, b := range builders {
			ch.stages[i] = b()
		}
		return ch
	}
}

// stageBuilder captures a copy of the parameters of kind.
func (c *Configuration) stageBuilder(kind Kind) func() Stage {
	switch kind {
	case KindEqualizer:
		p := c.Equalizer
		return func() Stage { return newEqualizer(p) }
	case KindKaraoke:
		p := c.Karaoke
		return func() Stage { return newKaraoke(p) }
	case KindTimescale:
		ratio := c.Speed()
		return func() Stage { return &timescaleStage{ratio: ratio} }
	case KindTremolo:
		p := c.Tremolo
		return func() Stage { return &tremoloStage{p: p} }
	case KindVibrato:
		p := c.Vibrato
		return func() Stage { return newVibrato(p) }
	case KindVolume:
		p := c.Volume
		return func() Stage { return volumeStage(p.Volume) }
	case KindChannelMix:
		p := c.ChannelMix
		return func() Stage { return channelMixStage(p) }
	case KindLowPass:
		p := c.LowPass
		return func() Stage { return &lowPassStage{smoothing: p.Smoothing} }
	case KindRotation:
		p := c.Rotation
		return func() Stage { return &rotationStage{hz: p.Hz} }
	}
	panic(fmt.Sprintf("filters: unknown kind %v", kind))
}

// Update merges a partial JSON object keyed by kind name into c. Kinds not
// present keep their parameters, fields not present keep their value and a
// null value resets the kind to its default. On error c is unchanged.
func (c *Configuration) Update(partial json.RawMessage) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(partial, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	next := *c
	for name, raw := range in {
		kind, ok := kindByName(name)
		if !ok {
			return fmt.Errorf("%w: unknown filter %q", ErrInvalid, name)
		}
		if err := next.merge(kind, raw); err != nil {
			return err
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func kindByName(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

func (c *Configuration) merge(kind Kind, raw json.RawMessage) error {
	reset := string(raw) == "null"
	var target any
	switch kind {
	case KindEqualizer:
		if reset {
			c.Equalizer = DefaultEqualizer
		}
		target = &c.Equalizer
	case KindKaraoke:
		if reset {
			c.Karaoke = DefaultKaraoke
		}
		target = &c.Karaoke
	case KindTimescale:
		if reset {
			c.Timescale = DefaultTimescale
		}
		target = &c.Timescale
	case KindTremolo:
		if reset {
			c.Tremolo = DefaultTremolo
		}
		target = &c.Tremolo
	case KindVibrato:
		if reset {
			c.Vibrato = DefaultVibrato
		}
		target = &c.Vibrato
	case KindVolume:
		if reset {
			c.Volume = DefaultVolume
		}
		target = &c.Volume
	case KindChannelMix:
		if reset {
			c.ChannelMix = DefaultChannelMix
		}
		target = &c.ChannelMix
	case KindLowPass:
		if reset {
			c.LowPass = DefaultLowPass
		}
		target = &c.LowPass
	case KindRotation:
		if reset {
			c.Rotation = DefaultRotation
		}
		target = &c.Rotation
	}
	if reset {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		if errors.Is(err, ErrInvalid) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalid, kind, err)
	}
	return nil
}

// Validate checks every parameter against its accepted range.
func (c *Configuration) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	for i, g := range c.Equalizer.Bands {
		check(g >= -0.25 && g <= 1, "equalizer band %d gain %v outside [-0.25, 1]", i, g)
	}
	check(c.Karaoke.FilterBand > 0, "karaoke filterBand must be positive")
	check(c.Karaoke.FilterWidth > 0, "karaoke filterWidth must be positive")
	check(c.Timescale.Speed > 0, "timescale speed must be positive")
	check(c.Timescale.Pitch > 0, "timescale pitch must be positive")
	check(c.Timescale.Rate > 0, "timescale rate must be positive")
	check(c.Tremolo.Frequency > 0, "tremolo frequency must be positive")
	check(c.Tremolo.Depth > 0 && c.Tremolo.Depth <= 1, "tremolo depth %v outside (0, 1]", c.Tremolo.Depth)
	check(c.Vibrato.Frequency > 0 && c.Vibrato.Frequency <= 14, "vibrato frequency %v outside (0, 14]", c.Vibrato.Frequency)
	check(c.Vibrato.Depth > 0 && c.Vibrato.Depth <= 1, "vibrato depth %v outside (0, 1]", c.Vibrato.Depth)
	check(c.Volume.Volume >= 0 && c.Volume.Volume <= 5, "volume %v outside [0, 5]", c.Volume.Volume)
	for name, v := range map[string]float64{
		"leftToLeft":   c.ChannelMix.LeftToLeft,
		"leftToRight":  c.ChannelMix.LeftToRight,
		"rightToLeft":  c.ChannelMix.RightToLeft,
		"rightToRight": c.ChannelMix.RightToRight,
	} {
		check(v >= 0 && v <= 1, "channelMix %s %v outside [0, 1]", name, v)
	}
	check(c.LowPass.Smoothing >= 1, "lowPass smoothing must be at least 1")
	return errors.Join(errs...)
}

// Encoded is the wire form of one kind: its parameters plus whether it is
// currently part of the chain.
type Encoded struct {
	Enabled bool
	Params  any
}

// MarshalJSON flattens the parameters next to the enabled flag.
func (e Encoded) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(e.Params)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	m["enabled"] = e.Enabled
	return json.Marshal(m)
}

// Encode returns every kind keyed by its wire name, configured or not.
func (c *Configuration) Encode() map[string]Encoded {
	params := map[Kind]any{
		KindEqualizer:  c.Equalizer,
		KindKaraoke:    c.Karaoke,
		KindTimescale:  c.Timescale,
		KindTremolo:    c.Tremolo,
		KindVibrato:    c.Vibrato,
		KindVolume:     c.Volume,
		KindChannelMix: c.ChannelMix,
		KindLowPass:    c.LowPass,
		KindRotation:   c.Rotation,
	}
	out := make(map[string]Encoded, len(Kinds))
	for _, k := range Kinds {
		out[k.String()] = Encoded{Enabled: c.Configured(k), Params: params[k]}
	}
	return out
}
