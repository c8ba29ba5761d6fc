package config_test

import (
	"slices"
	"testing"

	"github.com/natanbc/andesite/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := &config.Config{Sources: config.SourcesConfig{WAV: config.WAVSourceConfig{Enabled: true, Root: "/music"}}}
		config.ApplyDefaults(cfg)
		return cfg
	}
	off := false
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantPass    bool
		wantSearch  bool
		wantRestart []string
	}{
		{name: "no changes", mutate: func(*config.Config) {}},
		{name: "log level", mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, wantLog: true},
		{name: "password", mutate: func(c *config.Config) { c.Server.Password = "new" }, wantPass: true},
		{name: "auto search", mutate: func(c *config.Config) { c.Node.AutoSearch = &off }, wantSearch: true},
		{name: "search prefixes", mutate: func(c *config.Config) { c.Node.SearchPrefixes = []string{"scsearch:"} }, wantSearch: true},
		{
			name: "restart fields",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9999"
				c.Discord.Token = "other"
				c.Sources.WAV.Root = "/elsewhere"
			},
			wantRestart: []string{"server.listen_addr", "discord.token", "sources"},
		},
		{
			name:        "tls added",
			mutate:      func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} },
			wantRestart: []string{"server.tls"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			old, next := base(), base()
			tc.mutate(next)
			d := config.Diff(old, next)
			if d.LogLevelChanged != tc.wantLog || d.PasswordChanged != tc.wantPass || d.SearchChanged != tc.wantSearch {
				t.Errorf("diff = %+v", d)
			}
			if tc.wantLog && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("restart = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
			wantEmpty := !tc.wantLog && !tc.wantPass && !tc.wantSearch && len(tc.wantRestart) == 0
			if d.Empty() != wantEmpty {
				t.Errorf("Empty() = %v, want %v", d.Empty(), wantEmpty)
			}
		})
	}
}
