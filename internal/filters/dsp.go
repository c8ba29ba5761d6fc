package filters

import (
	"math"

	"github.com/natanbc/andesite/pkg/audio"
)

// Stage is one DSP step. It receives interleaved stereo samples scaled to
// [-1, 1] and returns the processed samples, which may differ in length.
// Stages may modify and return their input.
type Stage interface {
	Process(buf []float32) []float32
}

// Factory builds a fresh [Chain].
type Factory func() *Chain

// Chain runs PCM through its stages in order and hands the result to the
// output sink.
type Chain struct {
	stages []Stage
}

// Len returns the number of stages.
func (c *Chain) Len() int { return len(c.stages) }

// Process filters interleaved int16 stereo PCM and passes the output to
// sink. Output may be longer or shorter than the input when the timescale
// stage is active.
func (c *Chain) Process(pcm []int16, sink func([]int16)) {
	buf := make([]float32, len(pcm))
	for i, s := range pcm {
		buf[i] = float32(s) / 32768
	}
	for _, st := range c.stages {
		buf = st.Process(buf)
		if len(buf) == 0 {
			return
		}
	}
	out := make([]int16, len(buf))
	for i, v := range buf {
		out[i] = audio.Clamp16(int32(math.Round(float64(v) * 32768)))
	}
	sink(out)
}

const sampleRate = float64(audio.SampleRate)

// biquad is a two-pole IIR filter with independent state per channel.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [audio.Channels]float64
}

// newBandPass returns an RBJ band-pass filter with 0 dB peak gain.
func newBandPass(freq, q float64) biquad {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * math.Cos(w0) / a0,
		a2: (1 - alpha) / a0,
	}
}

func (b *biquad) process(ch int, x float64) float64 {
	y := b.b0*x + b.b1*b.x1[ch] + b.b2*b.x2[ch] - b.a1*b.y1[ch] - b.a2*b.y2[ch]
	b.x2[ch], b.x1[ch] = b.x1[ch], x
	b.y2[ch], b.y1[ch] = b.y1[ch], y
	return y
}

var bandFrequencies = [BandCount]float64{
	25, 40, 63, 100, 160, 250, 400, 630, 1000, 1600, 2500, 4000, 6300, 10000, 16000,
}

type equalizerStage struct {
	gains [BandCount]float64
	bands [BandCount]biquad
}

func newEqualizer(p Equalizer) *equalizerStage {
	s := &equalizerStage{gains: p.Bands}
	for i, f := range bandFrequencies {
		s.bands[i] = newBandPass(f, 2)
	}
	return s
}

func (s *equalizerStage) Process(buf []float32) []float32 {
	for i := range buf {
		ch := i % audio.Channels
		x := float64(buf[i])
		y := x
		for b := range s.bands {
			band := s.bands[b].process(ch, x)
			if s.gains[b] != 0 {
				y += s.gains[b] * band
			}
		}
		buf[i] = float32(y)
	}
	return buf
}

// karaokeStage cancels center-panned content and restores the low band
// of the mono mix.
type karaokeStage struct {
	p    Karaoke
	band biquad
}

func newKaraoke(p Karaoke) *karaokeStage {
	return &karaokeStage{p: p, band: newBandPass(p.FilterBand, p.FilterBand/p.FilterWidth)}
}

func (s *karaokeStage) Process(buf []float32) []float32 {
	for i := 0; i+1 < len(buf); i += 2 {
		l, r := float64(buf[i]), float64(buf[i+1])
		mono := s.band.process(0, (l+r)/2) * s.p.MonoLevel
		buf[i] = float32(l - r*s.p.Level + mono)
		buf[i+1] = float32(r - l*s.p.Level + mono)
	}
	return buf
}

// timescaleStage is a varispeed resampler: it reads source frames at ratio
// frames per output frame using linear interpolation.
type timescaleStage struct {
	ratio   float64
	pending []float32
	pos     float64
}

func (s *timescaleStage) Process(buf []float32) []float32 {
	s.pending = append(s.pending, buf...)
	frames := len(s.pending) / audio.Channels
	var out []float32
	for s.pos+1 < float64(frames) {
		i := int(s.pos)
		frac := float32(s.pos - float64(i))
		for ch := range audio.Channels {
			a := s.pending[i*audio.Channels+ch]
			b := s.pending[(i+1)*audio.Channels+ch]
			out = append(out, a+(b-a)*frac)
		}
		s.pos += s.ratio
	}
	drop := min(int(s.pos), frames)
	s.pending = append(s.pending[:0], s.pending[drop*audio.Channels:]...)
	s.pos -= float64(drop)
	return out
}

type tremoloStage struct {
	p     Tremolo
	phase float64
}

func (s *tremoloStage) Process(buf []float32) []float32 {
	step := s.p.Frequency / sampleRate
	for i := 0; i+1 < len(buf); i += 2 {
		gain := float32(1 - s.p.Depth*(0.5+0.5*math.Sin(2*math.Pi*s.phase)))
		buf[i] *= gain
		buf[i+1] *= gain
		s.phase = math.Mod(s.phase+step, 1)
	}
	return buf
}

const (
	vibratoWidth = 0.002 * sampleRate // max delay in frames
	vibratoRing  = 256
)

// vibratoStage modulates a short delay line, which bends the pitch.
type vibratoStage struct {
	p     Vibrato
	phase float64
	ring  [audio.Channels][vibratoRing]float32
	write int
}

func newVibrato(p Vibrato) *vibratoStage { return &vibratoStage{p: p} }

func (s *vibratoStage) Process(buf []float32) []float32 {
	step := s.p.Frequency / sampleRate
	for i := 0; i+1 < len(buf); i += 2 {
		delay := 1 + vibratoWidth*s.p.Depth*(0.5+0.5*math.Sin(2*math.Pi*s.phase))
		s.phase = math.Mod(s.phase+step, 1)
		for ch := range audio.Channels {
			s.ring[ch][s.write] = buf[i+ch]
			read := float64(s.write) - delay
			if read < 0 {
				read += vibratoRing
			}
			j := int(read)
			frac := float32(read - float64(j))
			a := s.ring[ch][j%vibratoRing]
			b := s.ring[ch][(j+1)%vibratoRing]
			buf[i+ch] = a + (b-a)*frac
		}
		s.write = (s.write + 1) % vibratoRing
	}
	return buf
}

type volumeStage float64

func (s volumeStage) Process(buf []float32) []float32 {
	for i := range buf {
		buf[i] *= float32(s)
	}
	return buf
}

type channelMixStage ChannelMix

func (s channelMixStage) Process(buf []float32) []float32 {
	for i := 0; i+1 < len(buf); i += 2 {
		l, r := float64(buf[i]), float64(buf[i+1])
		buf[i] = float32(l*s.LeftToLeft + r*s.RightToLeft)
		buf[i+1] = float32(l*s.LeftToRight + r*s.RightToRight)
	}
	return buf
}

type lowPassStage struct {
	smoothing float64
	last      [audio.Channels]float64
}

func (s *lowPassStage) Process(buf []float32) []float32 {
	for i := range buf {
		ch := i % audio.Channels
		s.last[ch] += (float64(buf[i]) - s.last[ch]) / s.smoothing
		buf[i] = float32(s.last[ch])
	}
	return buf
}

// rotationStage pans the signal around the stereo field at hz cycles per
// second with constant power.
type rotationStage struct {
	hz    float64
	phase float64
}

func (s *rotationStage) Process(buf []float32) []float32 {
	step := s.hz / sampleRate
	for i := 0; i+1 < len(buf); i += 2 {
		theta := (math.Sin(2*math.Pi*s.phase) + 1) * math.Pi / 4
		buf[i] *= float32(math.Cos(theta) * math.Sqrt2)
		buf[i+1] *= float32(math.Sin(theta) * math.Sqrt2)
		s.phase = math.Mod(s.phase+step, 1)
		if s.phase < 0 {
			s.phase++
		}
	}
	return buf
}
