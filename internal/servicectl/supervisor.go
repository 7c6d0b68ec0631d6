package servicectl

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/RandomWilder/Covenantrix-2.0/internal/logging"
)

// ExitEvent is the asynchronous notification delivered when a supervised
// engine process terminates, whatever the cause.
type ExitEvent struct {
	Code int
	Err  error
}

// Handle owns one live engine process spawned by the supervisor. Processes
// detected as already listening on the endpoint are never represented by a
// Handle and never terminated by the shell.
type Handle struct {
	cmd       *exec.Cmd
	artifact  Artifact
	startedAt time.Time
	done      chan ExitEvent
	closers   []io.Closer
}

// PID returns the operating system process ID.
func (h *Handle) PID() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Artifact returns the descriptor this process was launched from.
func (h *Handle) Artifact() Artifact { return h.artifact }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done delivers exactly one ExitEvent when the process terminates.
func (h *Handle) Done() <-chan ExitEvent { return h.done }

// Supervisor launches the engine artifact as a child process and owns its
// termination. It holds at most one live handle at a time; starting a new
// process requires the previous one to be terminated or exited.
type Supervisor struct {
	mu     sync.Mutex
	handle *Handle
	logDir string
	diag   *logging.RingBuffer
}

// NewSupervisor creates a supervisor writing captured engine output under
// logDir and mirroring it into diag for the UI status surface. diag may be
// nil.
func NewSupervisor(logDir string, diag *logging.RingBuffer) *Supervisor {
	return &Supervisor{logDir: logDir, diag: diag}
}

// Launch spawns the artifact with its working directory set to the
// artifact's own directory and stdout/stderr captured to rotating append
// logs. The returned handle delivers an ExitEvent on its Done channel when
// the process terminates.
func (s *Supervisor) Launch(a Artifact) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return nil, NewError(CodeSpawnFailure, "engine process already running", nil)
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return nil, NewError(CodeSpawnFailure, "cannot create engine log directory", err)
	}
	stdoutFile, err := os.OpenFile(filepath.Join(s.logDir, "covenantrix-engine.out.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, NewError(CodeSpawnFailure, "cannot open engine stdout log", err)
	}
	stderrFile, err := os.OpenFile(filepath.Join(s.logDir, "covenantrix-engine.err.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = stdoutFile.Close()
		return nil, NewError(CodeSpawnFailure, "cannot open engine stderr log", err)
	}

	cmd := exec.Command(a.Path, a.Args...)
	cmd.Dir = a.Dir
	cmd.Env = os.Environ()
	setSysProcAttr(cmd)

	h := &Handle{
		cmd:      cmd,
		artifact: a,
		done:     make(chan ExitEvent, 1),
		closers:  []io.Closer{stdoutFile, stderrFile},
	}

	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	if s.diag != nil {
		outDiag := s.diag.LineWriter("engine", "info")
		errDiag := s.diag.LineWriter("engine", "warn")
		h.closers = append(h.closers, outDiag, errDiag)
		cmd.Stdout = io.MultiWriter(stdoutFile, outDiag)
		cmd.Stderr = io.MultiWriter(stderrFile, errDiag)
	}

	if err = cmd.Start(); err != nil {
		for _, c := range h.closers {
			_ = c.Close()
		}
		return nil, NewError(CodeSpawnFailure, fmt.Sprintf("failed to start %s engine", a.Mode), err)
	}
	h.startedAt = time.Now()
	s.handle = h

	log.WithFields(log.Fields{
		"pid":  cmd.Process.Pid,
		"mode": string(a.Mode),
		"path": a.Path,
		"dir":  a.Dir,
	}).Info("engine process started")

	go s.reap(h)
	return h, nil
}

// reap waits for process exit, releases captured streams and publishes the
// exit notification. It also clears the supervisor's handle so a later
// Launch is permitted.
func (s *Supervisor) reap(h *Handle) {
	err := h.cmd.Wait()
	for _, c := range h.closers {
		_ = c.Close()
	}

	code := 0
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	log.WithFields(log.Fields{"pid": h.PID(), "code": code}).Info("engine process exited")

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()

	h.done <- ExitEvent{Code: code, Err: err}
	close(h.done)
}

// Current returns the live handle, or nil when no owned process exists.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Terminate stops the owned engine process if one exists. It is idempotent:
// with no owned process it is a no-op. Only processes this supervisor
// spawned are ever signalled. The handle stays claimed until reap observes
// the exit, so a concurrent Launch cannot start a second process while the
// old one is still dying.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil || h.cmd.Process == nil {
		return
	}

	// Best-effort graceful: interrupt first on non-Windows, then kill if the
	// process has not exited within the grace period.
	if runtime.GOOS != "windows" {
		_ = h.cmd.Process.Signal(os.Interrupt)
		select {
		case <-h.done:
			return
		case <-time.After(3 * time.Second):
		}
	}
	_ = h.cmd.Process.Kill()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		log.WithField("pid", h.PID()).Warn("engine process did not exit after kill")
	}
}
