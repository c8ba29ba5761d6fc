package filters

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestConfigured_EpsilonBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		set   func(c *Configuration, delta float64)
		kind  Kind
		delta float64
		want  bool
	}{
		{"volume below", func(c *Configuration, d float64) { c.Volume.Volume = 1 + d }, KindVolume, 0.009, false},
		{"volume above", func(c *Configuration, d float64) { c.Volume.Volume = 1 + d }, KindVolume, 0.011, true},
		{"volume negative below", func(c *Configuration, d float64) { c.Volume.Volume = 1 - d }, KindVolume, 0.009, false},
		{"volume negative above", func(c *Configuration, d float64) { c.Volume.Volume = 1 - d }, KindVolume, 0.011, true},
		{"eq band below", func(c *Configuration, d float64) { c.Equalizer.Bands[3] = d }, KindEqualizer, 0.009, false},
		{"eq band above", func(c *Configuration, d float64) { c.Equalizer.Bands[3] = d }, KindEqualizer, 0.011, true},
		{"timescale pitch below", func(c *Configuration, d float64) { c.Timescale.Pitch = 1 + d }, KindTimescale, 0.009, false},
		{"timescale pitch above", func(c *Configuration, d float64) { c.Timescale.Pitch = 1 + d }, KindTimescale, 0.011, true},
		{"karaoke width below", func(c *Configuration, d float64) { c.Karaoke.FilterWidth = 100 - d }, KindKaraoke, 0.009, false},
		{"karaoke width above", func(c *Configuration, d float64) { c.Karaoke.FilterWidth = 100 - d }, KindKaraoke, 0.011, true},
		{"rotation below", func(c *Configuration, d float64) { c.Rotation.Hz = d }, KindRotation, 0.009, false},
		{"rotation above", func(c *Configuration, d float64) { c.Rotation.Hz = d }, KindRotation, 0.011, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New()
			tt.set(c, tt.delta)
			if got := c.Configured(tt.kind); got != tt.want {
				t.Errorf("Configured(%v) = %v, want %v", tt.kind, got, tt.want)
			}
			if got := c.IsEnabled(); got != tt.want {
				t.Errorf("IsEnabled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_NothingConfigured(t *testing.T) {
	t.Parallel()

	c := New()
	for _, k := range Kinds {
		if c.Configured(k) {
			t.Errorf("default %v reports configured", k)
		}
	}
	if c.Factory() != nil {
		t.Error("Factory() != nil with nothing configured")
	}
	if c.Speed() != 1 {
		t.Errorf("Speed = %v, want 1", c.Speed())
	}
}

func TestFactory_StacksConfiguredKinds(t *testing.T) {
	t.Parallel()

	c := New()
	c.Volume.Volume = 0.5
	c.Tremolo.Depth = 0.8
	c.Rotation.Hz = 0.2

	f := c.Factory()
	if f == nil {
		t.Fatal("Factory() = nil with configured kinds")
	}
	ch := f()
	if ch.Len() != 3 {
		t.Fatalf("chain length = %d, want 3", ch.Len())
	}
	if _, ok := ch.stages[0].(*tremoloStage); !ok {
		t.Errorf("stage 0 = %T, want tremolo", ch.stages[0])
	}
	if _, ok := ch.stages[1].(volumeStage); !ok {
		t.Errorf("stage 1 = %T, want volume", ch.stages[1])
	}
	if _, ok := ch.stages[2].(*rotationStage); !ok {
		t.Errorf("stage 2 = %T, want rotation", ch.stages[2])
	}
}

func TestChain_Volume(t *testing.T) {
	t.Parallel()

	c := New()
	c.Volume.Volume = 0.5
	ch := c.Factory()()

	in := []int16{1000, -1000, 20000, -20000}
	var out []int16
	ch.Process(in, func(pcm []int16) { out = pcm })
	want := []int16{500, -500, 10000, -10000}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestChain_ChannelMixSwap(t *testing.T) {
	t.Parallel()

	c := New()
	c.ChannelMix = ChannelMix{LeftToRight: 1, RightToLeft: 1}
	ch := c.Factory()()

	var out []int16
	ch.Process([]int16{100, 200, 300, 400}, func(pcm []int16) { out = pcm })
	want := []int16{200, 100, 400, 300}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestChain_TimescaleChangesLength(t *testing.T) {
	t.Parallel()

	c := New()
	c.Timescale.Speed = 2
	if got := c.Speed(); got != 2 {
		t.Fatalf("Speed = %v, want 2", got)
	}
	ch := c.Factory()()

	in := make([]int16, 1920)
	total := 0
	for range 10 {
		ch.Process(in, func(pcm []int16) { total += len(pcm) })
	}
	// Ten frames at double speed yield about five frames of output.
	if total < 5*1920-8 || total > 5*1920+8 {
		t.Errorf("output samples = %d, want about %d", total, 5*1920)
	}
}

func TestUpdate_Merges(t *testing.T) {
	t.Parallel()

	c := New()
	err := c.Update(json.RawMessage(`{
		"timescale": {"speed": 1.5},
		"equalizer": {"bands": [{"band": 2, "gain": 0.3}]}
	}`))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if c.Timescale.Speed != 1.5 || c.Timescale.Pitch != 1 {
		t.Errorf("timescale = %+v, want speed 1.5 pitch 1", c.Timescale)
	}
	if c.Equalizer.Bands[2] != 0.3 {
		t.Errorf("band 2 = %v, want 0.3", c.Equalizer.Bands[2])
	}

	if err := c.Update(json.RawMessage(`{"timescale": null}`)); err != nil {
		t.Fatalf("Update reset: %v", err)
	}
	if c.Configured(KindTimescale) {
		t.Error("timescale still configured after null reset")
	}
	if !c.Configured(KindEqualizer) {
		t.Error("equalizer lost by unrelated update")
	}
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"not an object", `[1,2]`},
		{"unknown kind", `{"reverb": {}}`},
		{"band out of range", `{"equalizer": {"bands": [{"band": 15, "gain": 0.1}]}}`},
		{"gain too high", `{"equalizer": {"bands": [{"band": 0, "gain": 2}]}}`},
		{"zero speed", `{"timescale": {"speed": 0}}`},
		{"depth above one", `{"tremolo": {"depth": 1.5}}`},
		{"vibrato too fast", `{"vibrato": {"frequency": 20}}`},
		{"negative volume", `{"volume": {"volume": -1}}`},
		{"wrong type", `{"volume": {"volume": "loud"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New()
			before := *c
			err := c.Update(json.RawMessage(tt.input))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if *c != before {
				t.Error("configuration changed by a rejected update")
			}
		})
	}
}

func TestEncode_AllKinds(t *testing.T) {
	t.Parallel()

	c := New()
	c.Karaoke.Level = 0.5
	b, err := json.Marshal(c.Encode())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != len(Kinds) {
		t.Fatalf("encoded %d kinds, want %d", len(got), len(Kinds))
	}
	for _, k := range Kinds {
		entry, ok := got[k.String()]
		if !ok {
			t.Errorf("missing kind %q", k)
			continue
		}
		want := k == KindKaraoke
		if entry["enabled"] != want {
			t.Errorf("%s enabled = %v, want %v", k, entry["enabled"], want)
		}
	}
	if got["karaoke"]["level"] != 0.5 {
		t.Errorf("karaoke level = %v, want 0.5", got["karaoke"]["level"])
	}
	if got["rotation"]["rotationHz"] != 0.0 {
		t.Errorf("rotationHz = %v, want 0", got["rotation"]["rotationHz"])
	}
}
