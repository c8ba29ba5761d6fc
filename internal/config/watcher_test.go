package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/natanbc/andesite/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
sources:
  wav:
    enabled: true
    root: /music
`

const watcherUpdatedYAML = `
server:
  log_level: debug
sources:
  wav:
    enabled: true
    root: /music
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// bump rewrites path with content and moves its mtime forward so the next
// check notices regardless of filesystem timestamp resolution.
func bump(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	ts := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changes struct {
	mu  sync.Mutex
	got [][2]*config.Config
}

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, [2]*config.Config{old, new})
}

func (c *changes) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func newWatcher(t *testing.T) (string, *config.Watcher, *changes) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)
	ch := &changes{}
	w, err := config.NewWatcher(path, ch.record, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w, ch
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	_, w, _ := newWatcher(t)
	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path, w, ch := newWatcher(t)
	bump(t, path, watcherUpdatedYAML, 2)
	w.Check()

	if ch.len() != 1 {
		t.Fatalf("callback ran %d times, want 1", ch.len())
	}
	pair := ch.got[0]
	if pair[0].Server.LogLevel != config.LogInfo || pair[1].Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q", pair[0].Server.LogLevel, pair[1].Server.LogLevel)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()

	path, w, ch := newWatcher(t)
	bump(t, path, watcherInvalidYAML, 2)
	w.Check()

	if ch.len() != 0 {
		t.Errorf("callback ran %d times for an invalid file", ch.len())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() changed to %q", w.Current().Server.LogLevel)
	}

	// Fixing the file is picked up.
	bump(t, path, watcherUpdatedYAML, 4)
	w.Check()
	if ch.len() != 1 {
		t.Errorf("callback ran %d times after the fix, want 1", ch.len())
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	path, w, ch := newWatcher(t)
	bump(t, path, watcherValidYAML, 2)
	w.Check()
	if ch.len() != 0 {
		t.Errorf("callback ran %d times for a touch", ch.len())
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()

	path, w, ch := newWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	bump(t, path, watcherUpdatedYAML, 2)
	deadline := time.Now().Add(5 * time.Second)
	for ch.len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("change not picked up by Run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
