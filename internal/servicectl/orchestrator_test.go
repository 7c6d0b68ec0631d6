package servicectl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
)

func fastConfig(ep Endpoint) *config.Config {
	cfg := config.Default()
	cfg.Engine.Host = ep.Host
	cfg.Engine.Port = ep.Port
	cfg.Probe.PrecheckAttempts = 2
	cfg.Probe.PrecheckIntervalMS = 30
	cfg.Probe.PrecheckTimeoutMS = 20
	cfg.Probe.Attempts = 10
	cfg.Probe.IntervalMS = 30
	cfg.Probe.TimeoutMS = 20
	return cfg
}

// absentLocator resolves nothing: neither bundled artifact nor fallback.
func absentLocator() *Locator {
	l := NewLocator(config.EngineConfig{RepoRoot: "/nonexistent"})
	l.goos = "linux"
	l.stat = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	return l
}

// scriptLocator resolves a bundled artifact backed by a shell script.
func scriptLocator(t *testing.T, body string) *Locator {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fixtures are unix-only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "covenantrix-engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	l := NewLocator(config.EngineConfig{RepoRoot: dir})
	l.goos = "linux"
	l.stat = os.Stat
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	// Point the dev build path at the fixture.
	l.repoRoot = dir
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "core-rag-service", "dist"), 0o755))
	require.NoError(t, os.Rename(path, filepath.Join(dir, "core-rag-service", "dist", "covenantrix-engine")))
	return l
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 16)}
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *eventRecorder) ofType(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) wait(t *testing.T, want EventType) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, locator *Locator) (*Orchestrator, *Supervisor, *eventRecorder) {
	t.Helper()
	supervisor := NewSupervisor(t.TempDir(), nil)
	o := New(cfg, locator, supervisor, NewProbe())
	o.statePath = filepath.Join(t.TempDir(), "shell-state.json")
	rec := newEventRecorder()
	o.Subscribe(rec.record)
	return o, supervisor, rec
}

func TestPrecheckSuccessSkipsLaunch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	ep := endpointFor(t, srv)

	// A locator that would fail loudly if consulted.
	locator := absentLocator()
	o, supervisor, rec := newTestOrchestrator(t, fastConfig(ep), locator)

	require.NoError(t, o.Connect(context.Background()))
	assert.Equal(t, StateReady, o.State())
	assert.Nil(t, supervisor.Current(), "no process may be spawned when the pre-check succeeds")
	assert.False(t, o.StatusSnapshot().Managed, "a detected engine is never owned")

	ev := rec.wait(t, EventServiceReady)
	require.NotNil(t, ev.Endpoint)
	assert.Equal(t, ep.BaseURL(), ev.Endpoint.BaseURL())
	assert.Equal(t, 1, rec.ofType(EventServiceReady))
}

func TestConnectIsIdempotentOnceReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, _, rec := newTestOrchestrator(t, fastConfig(endpointFor(t, srv)), absentLocator())
	require.NoError(t, o.Connect(context.Background()))
	require.NoError(t, o.Connect(context.Background()))
	assert.Equal(t, 1, rec.ofType(EventServiceReady), "ready fires exactly once per successful cycle")
}

func TestLaunchThenReadyChain(t *testing.T) {
	// Health starts answering only after a cold-start delay.
	var readyAfter atomic.Int32
	readyAfter.Store(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if readyAfter.Add(-1) <= 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	locator := scriptLocator(t, "exec sleep 60\n")
	o, supervisor, rec := newTestOrchestrator(t, fastConfig(endpointFor(t, srv)), locator)

	require.NoError(t, o.Connect(context.Background()))
	assert.Equal(t, StateReady, o.State())

	st := o.StatusSnapshot()
	assert.True(t, st.Managed, "a launched engine is owned")
	assert.Positive(t, st.PID)
	assert.Equal(t, string(ModeBundled), st.Mode)
	rec.wait(t, EventServiceReady)

	// Shutdown terminates only the owned process.
	pid := st.PID
	o.Shutdown()
	assert.Nil(t, supervisor.Current())
	alive, _ := IsProcessAlive(pid)
	assert.False(t, alive)
}

func TestReadinessTimeoutTerminatesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastConfig(endpointFor(t, srv))
	cfg.Probe.Attempts = 3
	locator := scriptLocator(t, "exec sleep 60\n")
	o, supervisor, rec := newTestOrchestrator(t, cfg, locator)

	err := o.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeReadinessTimeout, CodeOf(err))
	assert.Equal(t, StateFailed, o.State())
	assert.Nil(t, supervisor.Current(), "timed-out launch must be terminated")

	ev := rec.wait(t, EventServiceFailed)
	require.NotNil(t, ev.Err)
	assert.Equal(t, CodeReadinessTimeout, ev.Err.Code)
	assert.Equal(t, 1, rec.ofType(EventServiceFailed), "failed fires exactly once per exhausted cycle")
}

func TestArtifactNotFoundFailsWithoutSpawn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o, supervisor, rec := newTestOrchestrator(t, fastConfig(endpointFor(t, srv)), absentLocator())

	err := o.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeArtifactNotFound, CodeOf(err))
	assert.Equal(t, StateFailed, o.State())
	assert.Nil(t, supervisor.Current(), "no spawn may be attempted without prerequisites")
	rec.wait(t, EventServiceFailed)
}

func TestEarlyExitDuringStartupFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	locator := scriptLocator(t, "exit 3\n")
	o, _, _ := newTestOrchestrator(t, fastConfig(endpointFor(t, srv)), locator)

	err := o.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeSpawnFailure, CodeOf(err))
	assert.Equal(t, StateFailed, o.State())
}

func TestUnexpectedExitWhileReady(t *testing.T) {
	// The pre-check misses so the chain launches; once launched, health
	// answers.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Engine stays up just long enough to become ready, then dies.
	locator := scriptLocator(t, "sleep 1\nexit 9\n")
	o, _, rec := newTestOrchestrator(t, fastConfig(endpointFor(t, srv)), locator)

	require.NoError(t, o.Connect(context.Background()))
	require.Equal(t, StateReady, o.State())

	ev := rec.wait(t, EventConnectionLost)
	require.NotNil(t, ev.Err)
	assert.Equal(t, CodeUnexpectedExit, ev.Err.Code)
	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, CodeUnexpectedExit, o.LastError().Code)
}

func TestConcurrentConnectsCoalesce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastConfig(endpointFor(t, srv))
	cfg.Probe.Attempts = 2
	o, _, rec := newTestOrchestrator(t, cfg, absentLocator())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = o.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.Equal(t, CodeArtifactNotFound, CodeOf(err))
	}
	// Single-flight: one chain ran, one terminal notification fired.
	assert.Equal(t, 1, rec.ofType(EventServiceFailed))
}

func TestReprobeRecoversManuallyStartedEngine(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastConfig(endpointFor(t, srv))
	cfg.Probe.Attempts = 3
	o, supervisor, rec := newTestOrchestrator(t, cfg, absentLocator())

	require.Error(t, o.Connect(context.Background()))
	require.Equal(t, StateFailed, o.State())

	// User starts the engine by hand, then picks the re-probe option.
	healthy.Store(true)
	require.NoError(t, o.Reprobe(context.Background()))
	assert.Equal(t, StateReady, o.State())
	assert.Nil(t, supervisor.Current(), "reprobe never launches")
	assert.False(t, o.StatusSnapshot().Managed)
	rec.wait(t, EventServiceReady)
}

func TestRetryAfterFailureRelaunches(t *testing.T) {
	// The fixture engine serves health (via the marker file) only on its
	// second launch, so the first cycle times out and the retry relaunches.
	marker := filepath.Join(t.TempDir(), "up")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(marker); err == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastConfig(endpointFor(t, srv))
	cfg.Probe.Attempts = 5
	script := "if [ -f \"" + marker + ".once\" ]; then touch \"" + marker + "\"; else touch \"" + marker + ".once\"; fi\nexec sleep 60\n"
	locator := scriptLocator(t, script)
	o, supervisor, _ := newTestOrchestrator(t, cfg, locator)

	err := o.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeReadinessTimeout, CodeOf(err))
	require.Nil(t, supervisor.Current())

	require.NoError(t, o.Retry(context.Background()))
	assert.Equal(t, StateReady, o.State())
	assert.NotNil(t, supervisor.Current(), "retry relaunches when the pre-check still misses")
	o.Shutdown()
}

func TestNeverReadyWithoutSuccessfulProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o, _, _ := newTestOrchestrator(t, fastConfig(endpointFor(t, srv)), absentLocator())
	_ = o.Connect(context.Background())
	assert.NotEqual(t, StateReady, o.State())
}
