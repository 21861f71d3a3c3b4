package subprocess

import (
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

var nopLog = slog.New(slog.DiscardHandler)

func lookPath(t *testing.T, name string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("Test requires Unix tools")
	}

	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}

	return path
}

func drain(t *testing.T, frames <-chan config.Frame) []config.Frame {
	t.Helper()

	var out []config.Frame

	timeout := time.After(5 * time.Second)

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}

			out = append(out, f)
		case <-timeout:
			require.FailNow(t, "frames not closed")
		}
	}
}

func TestDiscover_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	got, err := Discover(nopLog, path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestDiscover_ExplicitPathMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := Discover(nopLog, missing)

	notFound, ok := stderrors.AsType[*errors.CoreNotFoundError](err)
	require.True(t, ok)
	assert.Equal(t, []string{missing}, notFound.SearchedPaths)
}

func TestReadFrames_BeforeStart(t *testing.T) {
	tr := New(nopLog, Config{})

	frames, errs := tr.ReadFrames(t.Context())

	assert.Empty(t, drain(t, frames))
	assert.ErrorIs(t, <-errs, errors.ErrTransportNotStarted)
	assert.Nil(t, tr.Link())
	require.NoError(t, tr.Close())
}

func TestStart_AfterClose(t *testing.T) {
	tr := New(nopLog, Config{CorePath: lookPath(t, "cat")})

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Start(t.Context()), errors.ErrTransportClosed)
}

// cat echoes every line back, which makes it a loopback peer.
func TestLoopback_Cat(t *testing.T) {
	tr := New(nopLog, Config{CorePath: lookPath(t, "cat")})

	require.NoError(t, tr.Start(t.Context()))

	frames, _ := tr.ReadFrames(t.Context())

	require.NoError(t, tr.Link().Send(t.Context(), []byte(`{"kind":255658}`)))

	select {
	case f := <-frames:
		assert.JSONEq(t, `{"kind":255658}`, string(f.Data))
		assert.Equal(t, tr.Link(), f.Link)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	drain(t, frames)
}

func TestProcessExit_ReportsStderr(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)

	tr := New(nopLog, Config{
		CorePath: lookPath(t, "sh"),
		Args:     []string{"-c", "echo oops >&2; exit 3"},
		Stderr: func(line string) {
			mu.Lock()
			defer mu.Unlock()

			lines = append(lines, line)
		},
	})

	require.NoError(t, tr.Start(t.Context()))
	t.Cleanup(func() { _ = tr.Close() })

	frames, errs := tr.ReadFrames(t.Context())

	got := drain(t, frames)
	require.Len(t, got, 1)
	assert.True(t, got[0].Closed)

	err := <-errs
	require.Error(t, err)

	procErr, ok := stderrors.AsType[*errors.ProcessError](err)
	require.True(t, ok, "expected ProcessError, got %v", err)
	assert.Equal(t, 3, procErr.ExitCode)
	assert.Equal(t, "oops", procErr.Stderr)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"oops"}, lines)
}
