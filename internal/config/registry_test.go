package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/natanbc/andesite/internal/config"
	"github.com/natanbc/andesite/pkg/audio"
	audiomock "github.com/natanbc/andesite/pkg/audio/mock"
	"github.com/natanbc/andesite/pkg/track"
	trackmock "github.com/natanbc/andesite/pkg/track/mock"
)

func wavConfig() *config.Config {
	cfg := &config.Config{Sources: config.SourcesConfig{WAV: config.WAVSourceConfig{Enabled: true, Root: "/music"}}}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestRegistry_CreateDecoder(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotRoot string
	r.RegisterSource(config.SourceWAV, func(c *config.Config) (track.Decoder, error) {
		gotRoot = c.Sources.WAV.Root
		return &trackmock.Decoder{}, nil
	})

	dec, err := r.CreateDecoder(wavConfig())
	if err != nil {
		t.Fatalf("CreateDecoder: %v", err)
	}
	if gotRoot != "/music" {
		t.Errorf("factory saw root %q", gotRoot)
	}
	res, err := dec.Load(context.Background(), "mock:1:1")
	if err != nil || res.LoadType != track.LoadTrack {
		t.Errorf("Load = %+v, %v", res, err)
	}
}

func TestRegistry_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(*config.Registry)
		run   func(*config.Registry) error
		want  error
	}{
		{
			name:  "unregistered source",
			setup: func(*config.Registry) {},
			run: func(r *config.Registry) error {
				_, err := r.CreateDecoder(wavConfig())
				return err
			},
			want: config.ErrNotRegistered,
		},
		{
			name: "source factory error",
			setup: func(r *config.Registry) {
				r.RegisterSource(config.SourceWAV, func(*config.Config) (track.Decoder, error) { return nil, boom })
			},
			run: func(r *config.Registry) error {
				_, err := r.CreateDecoder(wavConfig())
				return err
			},
			want: boom,
		},
		{
			name:  "unregistered platform",
			setup: func(*config.Registry) {},
			run: func(r *config.Registry) error {
				_, err := r.CreatePlatform(config.PlatformDiscord, wavConfig())
				return err
			},
			want: config.ErrNotRegistered,
		},
		{
			name: "platform factory error",
			setup: func(r *config.Registry) {
				r.RegisterPlatform(config.PlatformDiscord, func(*config.Config) (audio.Platform, error) { return nil, boom })
			},
			run: func(r *config.Registry) error {
				_, err := r.CreatePlatform(config.PlatformDiscord, wavConfig())
				return err
			},
			want: boom,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := config.NewRegistry()
			tc.setup(r)
			if err := tc.run(r); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRegistry_CreatePlatform(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	want := &audiomock.Platform{}
	r.RegisterPlatform(config.PlatformDiscord, func(*config.Config) (audio.Platform, error) { return want, nil })
	got, err := r.CreatePlatform(config.PlatformDiscord, wavConfig())
	if err != nil || got != want {
		t.Errorf("CreatePlatform = %v, %v", got, err)
	}
}
