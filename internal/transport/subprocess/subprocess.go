package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
	"github.com/wagiedev/parabox-connector-go/internal/transport/stdio"
)

const (
	// maxStderrBufferSize caps the stderr kept for error reporting.
	// The callback still receives every line past this limit.
	maxStderrBufferSize = 1024 * 1024 // 1MB
)

// Config describes the core process to run.
type Config struct {
	// CorePath is the core binary. If empty, Discover searches for it.
	CorePath string

	// Args are the command line arguments. A discovered binary with no
	// arguments is run as "parabox core".
	Args []string

	// Env is added to the current environment.
	Env []string

	// Dir is the working directory. Empty uses the current directory.
	Dir string

	// Stderr receives each stderr line of the process.
	Stderr func(line string)
}

// Transport runs a core process and speaks to it over stdio.
type Transport struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	lines   *stdio.Transport
	closing bool // Close was called; exit errors are expected
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a transport for cfg. The process is spawned by Start.
func New(log *slog.Logger, cfg Config) *Transport {
	return &Transport{
		log: log.With("component", "subprocess_transport"),
		cfg: cfg,
	}
}

// Start discovers and spawns the core process.
//
// Returns CoreNotFoundError if the binary cannot be located, or a
// TransportError if the process fails to start.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return errors.ErrTransportClosed
	}

	path, err := Discover(t.log, t.cfg.CorePath)
	if err != nil {
		return fmt.Errorf("discover core: %w", err)
	}

	args := t.cfg.Args
	if t.cfg.CorePath == "" && len(args) == 0 {
		args = []string{"core"}
	}

	//nolint:gosec // G204: the core binary and its arguments are configured by the caller
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = t.cfg.Dir
	cmd.Env = append(os.Environ(), t.cfg.Env...)

	if t.stdin, err = cmd.StdinPipe(); err != nil {
		return &errors.TransportError{Transport: "subprocess", Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	if t.stdout, err = cmd.StdoutPipe(); err != nil {
		return &errors.TransportError{Transport: "subprocess", Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	if t.stderr, err = cmd.StderrPipe(); err != nil {
		return &errors.TransportError{Transport: "subprocess", Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start core process", "error", err)

		return &errors.TransportError{Transport: "subprocess", Err: fmt.Errorf("start process: %w", err)}
	}

	t.cmd = cmd
	t.lines = stdio.New(t.log, "subprocess", t.stdout, t.stdin)

	t.log.Info("Core process started", "path", path, "pid", cmd.Process.Pid)

	return nil
}

// Link returns the link to the core process, or nil before Start.
func (t *Transport) Link() config.Link {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lines == nil {
		return nil
	}

	return t.lines.Link()
}

// ReadFrames reads envelopes from the process stdout.
//
// After stdout is exhausted the process is reaped. An unexpected non-zero
// exit is reported as a TransportError wrapping a ProcessError that carries
// the buffered stderr.
func (t *Transport) ReadFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	frames := make(chan config.Frame)
	errs := make(chan error, 2)

	t.mu.Lock()
	cmd, inner, stderr := t.cmd, t.lines, t.stderr
	t.mu.Unlock()

	if inner == nil {
		errs <- errors.ErrTransportNotStarted

		close(frames)
		close(errs)

		return frames, errs
	}

	var (
		stderrWg  sync.WaitGroup
		stderrMu  sync.Mutex
		stderrBuf strings.Builder
	)

	stderrWg.Go(func() {
		// The process exiting closes the pipe and ends the scan.
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()

			stderrMu.Lock()

			if stderrBuf.Len() < maxStderrBufferSize {
				if stderrBuf.Len() > 0 {
					stderrBuf.WriteString("\n")
				}

				stderrBuf.WriteString(line)
			}

			stderrMu.Unlock()

			if t.cfg.Stderr != nil {
				t.cfg.Stderr(line)
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Debug("Stderr scanner error", "error", err)
		}
	})

	innerFrames, innerErrs := inner.ReadFrames(ctx)

	go func() {
		defer close(frames)
		defer close(errs)
		defer t.log.Debug("ReadFrames goroutine stopped")

		for f := range innerFrames {
			select {
			case frames <- f:
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}
		}

		if err, ok := <-innerErrs; ok && err != nil {
			errs <- err

			return
		}

		stderrWg.Wait()

		t.log.Debug("Waiting for core process to exit")

		err := cmd.Wait()
		if err == nil {
			t.log.Info("Core process exited")

			return
		}

		t.mu.Lock()
		closing := t.closing
		t.mu.Unlock()

		if closing {
			t.log.Debug("Core process terminated during shutdown")

			return
		}

		stderrMu.Lock()
		output := strings.TrimSpace(stderrBuf.String())
		stderrMu.Unlock()

		exitCode := -1
		if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
			exitCode = exitErr.ExitCode()
		}

		t.log.Error("Core process exited with error", "exit_code", exitCode, "stderr", output)

		errs <- &errors.TransportError{
			Transport: "subprocess",
			Err:       &errors.ProcessError{ExitCode: exitCode, Stderr: output, Err: err},
		}
	}()

	return frames, errs
}

// Close kills the core process. Safe to call multiple times or before Start.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return nil
	}

	t.closing = true

	if t.lines != nil {
		_ = t.lines.Close()
	}

	if t.stdin != nil {
		_ = t.stdin.Close()
	}

	if t.cmd != nil && t.cmd.Process != nil {
		t.log.Debug("Killing core process", "pid", t.cmd.Process.Pid)

		if err := t.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill core process (pid %d): %w", t.cmd.Process.Pid, err)
		}
	}

	return nil
}
