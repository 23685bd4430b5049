package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeConfig(t, `
discord:
  token: tok
game:
  allow_self_follow: false
`)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`
discord:
  token: tok
game:
  allow_self_follow: true
`), 0o644))

	select {
	case cfg := <-reloaded:
		require.True(t, cfg.Game.AllowSelfFollow)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}

	cancel()
	<-done
}

func TestWatcher_KeepsPreviousOnInvalidReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeConfig(t, "discord:\n  token: tok\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	// Token removed: the revision fails validation and must be dropped.
	require.NoError(t, os.WriteFile(path, []byte("discord:\n  token: \"\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(1 * time.Second):
	}

	cancel()
	<-done
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "chainbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord:\n  token: tok\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("sibling file write must not trigger a reload")
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	<-done
}
