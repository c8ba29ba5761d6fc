package config

import "slices"

// Changes describes what differs between two configs. Hot fields can be
// applied to a running node; the rest are listed in RestartRequired.
type Changes struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PasswordChanged bool

	// SearchChanged covers auto_search and both prefix settings.
	SearchChanged bool

	// RestartRequired names changed settings that only apply on restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return !c.LogLevelChanged && !c.PasswordChanged && !c.SearchChanged && len(c.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) Changes {
	var c Changes
	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevelChanged = true
		c.NewLogLevel = new.Server.LogLevel
	}
	c.PasswordChanged = old.Server.Password != new.Server.Password
	c.SearchChanged = old.Node.AutoSearchEnabled() != new.Node.AutoSearchEnabled() ||
		old.Node.DefaultSearchPrefix != new.Node.DefaultSearchPrefix ||
		!slices.Equal(old.Node.SearchPrefixes, new.Node.SearchPrefixes)

	restart := func(name string, changed bool) {
		if changed {
			c.RestartRequired = append(c.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("server.node_id", old.Server.NodeID != new.Server.NodeID)
	restart("server.node_region", old.Server.NodeRegion != new.Server.NodeRegion)
	restart("server.compat_stats_interval", old.Server.CompatStatsInterval != new.Server.CompatStatsInterval)
	restart("node.frame_buffer", old.Node.FrameBuffer != new.Node.FrameBuffer)
	restart("node.pump_retry", old.Node.PumpRetry != new.Node.PumpRetry)
	restart("node.idle_timeout", old.Node.IdleTimeout != new.Node.IdleTimeout)
	restart("node.sweep_interval", old.Node.SweepInterval != new.Node.SweepInterval)
	restart("node.state_interval", old.Node.StateInterval != new.Node.StateInterval)
	restart("node.workers", old.Node.Workers != new.Node.Workers)
	restart("node.track_loading", old.Node.TrackLoading != new.Node.TrackLoading)
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("sources", old.Sources != new.Sources)
	restart("telemetry", old.Telemetry != new.Telemetry)
	return c
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
