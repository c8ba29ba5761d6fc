package audio_test

import (
	"slices"
	"testing"

	"github.com/natanbc/andesite/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	got := audio.MonoToStereo([]int16{100, 200, 300})
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	got := audio.StereoToMono([]int16{100, 200, -100, -200})
	want := []int16{150, -150}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	got := audio.StereoToMono([]int16{32767, 32767})
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResample_SameRate(t *testing.T) {
	pcm := []int16{100, 200, 300}
	if out := audio.ResampleMono(pcm, 48000, 48000); len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResample_Lengths(t *testing.T) {
	tests := []struct {
		name     string
		stereo   bool
		in       int
		src, dst int
		want     int
	}{
		{"mono upsample 24k->48k", false, 480, 24000, 48000, 960},
		{"mono downsample 48k->16k", false, 960, 48000, 16000, 320},
		{"stereo upsample 44.1k->48k", true, 882 * 2, 44100, 48000, 960 * 2},
		{"stereo identity", true, 1920, 48000, 48000, 1920},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pcm := make([]int16, tc.in)
			var out []int16
			if tc.stereo {
				out = audio.ResampleStereo(pcm, tc.src, tc.dst)
			} else {
				out = audio.ResampleMono(pcm, tc.src, tc.dst)
			}
			if len(out) != tc.want {
				t.Errorf("len = %d, want %d", len(out), tc.want)
			}
		})
	}
}

func TestConverter_MonoToOutput(t *testing.T) {
	c := audio.Converter{Target: audio.Output}
	in := make([]int16, 480)
	for i := range in {
		in[i] = 1000
	}
	out := c.Convert(in, audio.Format{SampleRate: 24000, Channels: 1})
	if len(out) != audio.FrameLen {
		t.Fatalf("len = %d, want %d", len(out), audio.FrameLen)
	}
	for i, s := range out {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestConverter_PassthroughSameFormat(t *testing.T) {
	c := audio.Converter{Target: audio.Output}
	in := []int16{1, 2, 3, 4}
	out := c.Convert(in, audio.Output)
	if &out[0] != &in[0] {
		t.Error("expected passthrough without copy")
	}
}

func TestClamp16(t *testing.T) {
	tests := []struct {
		in   int32
		want int16
	}{
		{0, 0},
		{40000, 32767},
		{-40000, -32768},
		{-123, -123},
	}
	for _, tc := range tests {
		if got := audio.Clamp16(tc.in); got != tc.want {
			t.Errorf("Clamp16(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768}
	if got := audio.BytesToInt16s(audio.Int16sToBytes(pcm)); !slices.Equal(got, pcm) {
		t.Fatalf("got %v, want %v", got, pcm)
	}
}
