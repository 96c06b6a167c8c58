package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/buildgate/buildgate/internal/logger"
	"github.com/buildgate/buildgate/internal/queue"
)

// ProcConfig describes the listener subprocess.
type ProcConfig struct {
	// Command is a shell command line starting the listener.
	Command string `mapstructure:"command"`
	WorkDir string `mapstructure:"work_dir"`
	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string `mapstructure:"env"`
	// Name is the log file stem for captured output.
	Name string `mapstructure:"name"`
	// Log configures rotating capture files. Stderr is captured as the
	// listener's own log; stdout, the notification stream, is teed into
	// a capture file before parsing.
	Log logger.Config `mapstructure:"log"`
}

// ProcSource runs the listener as a subprocess and ingests the
// line-delimited JSON status records it writes to stdout. The pipe has
// no read deadline; Stop ends the stream by terminating the subprocess,
// escalating from a graceful signal to a kill after the grace period.
type ProcSource struct {
	cfg ProcConfig
	q   *queue.Queue

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	done      chan struct{}
	pumpErr   error
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

var _ Source = (*ProcSource)(nil)

func NewProcSource(cfg ProcConfig, q *queue.Queue) *ProcSource {
	return &ProcSource{cfg: cfg, q: q}
}

func (s *ProcSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("listener already started")
	}
	if strings.TrimSpace(s.cfg.Command) == "" {
		return errors.New("empty listener command")
	}

	cmd := getShellCommand(s.cfg.Command)
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("listener stdout pipe: %w", err)
	}

	name := s.cfg.Name
	if name == "" {
		name = "listener"
	}
	var stream io.Reader = stdout
	if s.cfg.Log.File.Dir != "" || s.cfg.Log.File.StdoutPath != "" || s.cfg.Log.File.StderrPath != "" {
		outW, errW, err := s.cfg.Log.ProcessWriters(name)
		if err != nil {
			return fmt.Errorf("listener log writers: %w", err)
		}
		s.outCloser, s.errCloser = outW, errW
		cmd.Stderr = errW
		if outW != nil {
			stream = io.TeeReader(stdout, outW)
		}
	} else {
		cmd.Stderr = io.Discard
	}

	if err := cmd.Start(); err != nil {
		s.closeWritersLocked()
		return fmt.Errorf("start listener: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cmd = cmd
	s.cancel = cancel
	s.done = make(chan struct{})

	// The pump owns the pipe: it reads to EOF, then reaps the process.
	go func() {
		defer close(s.done)
		err := Pump(ctx, stream, s.q)
		waitErr := cmd.Wait()
		s.mu.Lock()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.pumpErr = err
		} else if waitErr != nil {
			s.pumpErr = waitErr
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop signals the listener to exit and waits up to wait before
// escalating to a forceful kill. Buffered notifications survive.
func (s *ProcSource) Stop(wait time.Duration) error {
	s.mu.Lock()
	cmd := s.cmd
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	cancel()
	_ = signalStop(cmd)

	killed := false
	select {
	case <-done:
	case <-time.After(wait):
		killed = true
		_ = signalKill(cmd)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.closeWriters()
			return errors.New("listener did not exit after kill")
		}
	}
	s.closeWriters()
	if killed {
		return fmt.Errorf("listener killed after %s timeout", wait)
	}
	return nil
}

// Done is closed when the pump has finished and the listener is reaped.
func (s *ProcSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err reports a stream or exit error. Meaningful after Done is closed.
func (s *ProcSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pumpErr
}

// PID returns the listener's process id, or 0 when it is not running.
func (s *ProcSource) PID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return int32(s.cmd.Process.Pid)
}

func (s *ProcSource) closeWriters() {
	s.mu.Lock()
	s.closeWritersLocked()
	s.mu.Unlock()
}

func (s *ProcSource) closeWritersLocked() {
	if s.outCloser != nil {
		_ = s.outCloser.Close()
		s.outCloser = nil
	}
	if s.errCloser != nil {
		_ = s.errCloser.Close()
		s.errCloser = nil
	}
}
