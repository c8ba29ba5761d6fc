package wavfile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

// writeWAV writes a 16-bit PCM file of seconds length with a constant value.
func writeWAV(t *testing.T, path string, rate, channels int, seconds float64, value int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	n := int(float64(rate)*seconds) * channels
	data := make([]int, n)
	for i := range data {
		data[i] = value
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func newDecoder(t *testing.T) (*Decoder, string) {
	t.Helper()
	dir := t.TempDir()
	d, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, dir
}

func TestLoad_DecodeRoundTrip(t *testing.T) {
	d, dir := newDecoder(t)
	writeWAV(t, filepath.Join(dir, "tone.wav"), 48000, 2, 1, 1234)

	res, err := d.Load(context.Background(), "tone.wav")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.LoadType != track.LoadTrack || len(res.Tracks) != 1 {
		t.Fatalf("result = %+v, want one loaded track", res)
	}
	entry := res.Tracks[0]
	if entry.Info.Title != "tone" {
		t.Errorf("title = %q, want %q", entry.Info.Title, "tone")
	}
	if entry.Info.Length != 1000 {
		t.Errorf("length = %d, want 1000", entry.Info.Length)
	}

	tr, err := d.Decode(entry.Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	buf := make([]int16, audio.FrameLen)
	n, err := tr.ReadPCM(buf)
	if err != nil || n != audio.FrameLen {
		t.Fatalf("ReadPCM = (%d, %v), want (%d, nil)", n, err, audio.FrameLen)
	}
	if buf[0] != 1234 {
		t.Errorf("sample = %d, want 1234", buf[0])
	}

	again, err := d.Encode(tr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if again != entry.Token {
		t.Errorf("token changed across round trip: %q != %q", again, entry.Token)
	}
}

func TestTrack_ConvertsMonoAndSeeks(t *testing.T) {
	d, dir := newDecoder(t)
	writeWAV(t, filepath.Join(dir, "mono.wav"), 24000, 1, 2, 500)

	res, err := d.Load(context.Background(), "mono.wav")
	if err != nil || len(res.Tracks) != 1 {
		t.Fatalf("Load = (%+v, %v)", res, err)
	}
	tr, err := d.Decode(res.Tracks[0].Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := tr.Info().Length; got != 2000 {
		t.Errorf("length = %d, want 2000", got)
	}

	tr.SetPosition(1500 * time.Millisecond)
	if got := tr.Position(); got != 1500*time.Millisecond {
		t.Errorf("position = %v, want 1.5s", got)
	}

	buf := make([]int16, 48000*2)
	total := 0
	for {
		n, err := tr.ReadPCM(buf)
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPCM: %v", err)
		}
	}
	if want := 48000 / 2 * 2; total != want {
		t.Errorf("read %d samples after seek, want %d", total, want)
	}
}

func TestLoad_NoMatches(t *testing.T) {
	d, _ := newDecoder(t)
	tests := []string{
		"missing.wav",
		"song.mp3",
		"https://example.com/a.wav",
		"../outside.wav",
	}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			res, err := d.Load(context.Background(), id)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if res.LoadType != track.LoadNoMatch {
				t.Errorf("loadType = %s, want %s", res.LoadType, track.LoadNoMatch)
			}
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	d, _ := newDecoder(t)
	for _, tok := range []string{"", "wav1:!!!", "mock:1:2", "wav1:e30"} {
		if _, err := d.Decode(tok); !errors.Is(err, track.ErrUndecodable) {
			t.Errorf("Decode(%q) err = %v, want ErrUndecodable", tok, err)
		}
	}
}
