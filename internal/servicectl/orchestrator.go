package servicectl

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
)

// State is the connection state the UI observes. Transitions are driven only
// by the orchestrator.
type State string

const (
	StateIdle            State = "idle"
	StateProbing         State = "probing"
	StateLaunching       State = "launching"
	StateWaitingForReady State = "waiting_for_ready"
	StateReady           State = "ready"
	StateFailed          State = "failed"
)

// EventType identifies a notification delivered to the UI layer.
type EventType string

const (
	// EventServiceReady fires exactly once per successful cycle and carries
	// the resolved endpoint.
	EventServiceReady EventType = "service-ready"
	// EventServiceFailed fires exactly once per exhausted cycle.
	EventServiceFailed EventType = "service-failed"
	// EventConnectionLost fires when a previously ready engine process
	// terminates unexpectedly; the established connection is no longer valid.
	EventConnectionLost EventType = "connection-lost"
)

// Event is a one-shot notification about a terminal state transition.
type Event struct {
	Type     EventType       `json:"type"`
	Endpoint *Endpoint       `json:"endpoint,omitempty"`
	Err      *LifecycleError `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of the orchestrator for the UI and the
// operator CLI.
type Status struct {
	State     State           `json:"state"`
	Running   bool            `json:"running"`
	Managed   bool            `json:"managed"`
	PID       int             `json:"pid,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	BaseURL   string          `json:"base_url"`
	StartedAt time.Time       `json:"started_at,omitzero"`
	InFlight  bool            `json:"in_flight"`
	LastError *LifecycleError `json:"last_error,omitempty"`
}

// Orchestrator drives the connection state machine: try "already running",
// then "launch bundled artifact", then "launch interpreter fallback", then
// surface a recovery decision to the user. Exactly one orchestrator exists
// per shell window, and at most one connect cycle runs at a time; concurrent
// activations coalesce onto the in-flight cycle.
type Orchestrator struct {
	cfg        *config.Config
	ep         Endpoint
	locator    *Locator
	supervisor *Supervisor
	probe      *Probe

	group singleflight.Group

	statePath string

	mu        sync.Mutex
	state     State
	lastErr   *LifecycleError
	owned     bool
	gen       int
	inFlight  bool
	observers []func(Event)
}

// New wires an orchestrator from its collaborators. The endpoint is derived
// from configuration once and fixed for the process lifetime.
func New(cfg *config.Config, locator *Locator, supervisor *Supervisor, probe *Probe) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		ep:         NewEndpoint(cfg.Engine.Host, cfg.Engine.Port),
		locator:    locator,
		supervisor: supervisor,
		probe:      probe,
		state:      StateIdle,
		statePath:  DefaultStatePath(),
	}
}

// Endpoint returns the fixed engine endpoint.
func (o *Orchestrator) Endpoint() Endpoint { return o.ep }

// Subscribe registers an observer for terminal-transition events. Observers
// are invoked synchronously in subscription order; they must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// State returns the current connection state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the failure that ended the most recent cycle, if any.
func (o *Orchestrator) LastError() *LifecycleError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// InFlight reports whether a connect cycle is currently running. The UI uses
// this to suppress the recovery prompt while probing or launching.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// StatusSnapshot returns the current status for the UI and covenantrixctl.
func (o *Orchestrator) StatusSnapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:     o.state,
		Running:   o.state == StateReady,
		Managed:   o.owned,
		BaseURL:   o.ep.BaseURL(),
		InFlight:  o.inFlight,
		LastError: o.lastErr,
	}
	if h := o.supervisor.Current(); h != nil {
		st.PID = h.PID()
		st.Mode = string(h.Artifact().Mode)
		st.StartedAt = h.StartedAt()
	}
	return st
}

// Connect establishes the connection, entering the fallback chain once per
// window lifecycle. Concurrent calls are single-flight: they observe the
// outcome of the cycle already in progress instead of starting a second
// chain. Once Ready, Connect returns immediately.
func (o *Orchestrator) Connect(ctx context.Context) error {
	_, err, _ := o.group.Do("connect", func() (interface{}, error) {
		return nil, o.runCycle(ctx)
	})
	return err
}

// Retry terminates any engine process this shell owns and re-runs the full
// connect chain. It coalesces with an in-flight cycle.
func (o *Orchestrator) Retry(ctx context.Context) error {
	_, err, _ := o.group.Do("connect", func() (interface{}, error) {
		o.mu.Lock()
		o.gen++
		o.state = StateIdle
		o.mu.Unlock()
		o.supervisor.Terminate()
		return nil, o.runCycle(ctx)
	})
	return err
}

// Reprobe re-checks the endpoint without launching anything, covering the
// case where the user started the engine manually after a failure. It
// coalesces with an in-flight cycle.
func (o *Orchestrator) Reprobe(ctx context.Context) error {
	_, err, _ := o.group.Do("connect", func() (interface{}, error) {
		o.mu.Lock()
		if o.state == StateReady {
			o.mu.Unlock()
			return nil, nil
		}
		o.gen++
		o.mu.Unlock()

		o.setInFlight(true)
		defer o.setInFlight(false)

		o.transition(StateProbing)
		if o.probe.AwaitReady(ctx, o.ep, o.cfg.Probe.Attempts, o.cfg.ProbeInterval(), o.cfg.ProbeTimeout()) {
			o.becomeReady(false)
			return nil, nil
		}
		failure := NewError(CodeReadinessTimeout, "engine is still not reachable", nil)
		o.fail(failure)
		return nil, failure
	})
	return err
}

// runCycle executes one pass of the state machine. Transitions are strictly
// sequential; the single-flight group guarantees no competing cycle runs.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateReady {
		o.mu.Unlock()
		return nil
	}
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	o.setInFlight(true)
	defer o.setInFlight(false)

	// Fast pre-check: an engine already listening (for example a developer's
	// manually started instance) is preferred over launching a new one, and
	// is never owned or terminated by this shell.
	o.transition(StateProbing)
	if o.probe.AwaitReady(ctx, o.ep, o.cfg.Probe.PrecheckAttempts, o.cfg.PrecheckInterval(), o.cfg.PrecheckTimeout()) {
		o.becomeReady(false)
		return nil
	}

	o.transition(StateLaunching)
	artifact, ok, reason := o.locator.Locate()
	if !ok {
		log.WithField("reason", reason).Info("bundled engine unavailable, trying interpreter fallback")
		var fallbackReason string
		artifact, ok, fallbackReason = o.locator.LocateFallback()
		if !ok {
			failure := NewError(CodeArtifactNotFound,
				fmt.Sprintf("no runnable engine found: %s; %s", reason, fallbackReason), nil)
			o.fail(failure)
			return failure
		}
	}

	handle, err := o.supervisor.Launch(artifact)
	if err != nil {
		failure, isLifecycle := err.(*LifecycleError)
		if !isLifecycle {
			failure = NewError(CodeSpawnFailure, "failed to start engine", err)
		}
		o.fail(failure)
		return failure
	}
	engineLaunches.WithLabelValues(string(artifact.Mode)).Inc()
	o.persistRuntimeState(handle)

	o.transition(StateWaitingForReady)
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	readyCh := make(chan bool, 1)
	go func() {
		readyCh <- o.probe.AwaitReady(waitCtx, o.ep, o.cfg.Probe.Attempts, o.cfg.ProbeInterval(), o.cfg.ProbeTimeout())
	}()

	select {
	case exit := <-handle.Done():
		cancel()
		<-readyCh
		failure := NewError(CodeSpawnFailure,
			fmt.Sprintf("engine exited during startup (code %d)", exit.Code), exit.Err)
		o.fail(failure)
		return failure
	case ready := <-readyCh:
		if !ready {
			o.supervisor.Terminate()
			o.clearRuntimeState()
			failure := NewError(CodeReadinessTimeout,
				fmt.Sprintf("engine did not become ready within %d attempts", o.cfg.Probe.Attempts), nil)
			o.fail(failure)
			return failure
		}
	}

	o.watchOwnedProcess(handle, gen)
	o.becomeReady(true)
	return nil
}

// watchOwnedProcess turns an exit notification from a process this shell
// spawned into a Ready→Failed transition. Exits observed in any other state,
// or from a superseded cycle, are ignored.
func (o *Orchestrator) watchOwnedProcess(handle *Handle, gen int) {
	go func() {
		exit := <-handle.Done()

		o.mu.Lock()
		if o.gen != gen || o.state != StateReady || !o.owned {
			o.mu.Unlock()
			return
		}
		o.state = StateFailed
		o.owned = false
		o.lastErr = NewError(CodeUnexpectedExit,
			fmt.Sprintf("engine process terminated unexpectedly (code %d)", exit.Code), exit.Err)
		failure := o.lastErr
		o.mu.Unlock()

		unexpectedExits.Inc()
		stateTransitions.WithLabelValues(string(StateFailed)).Inc()
		log.WithField("code", exit.Code).Error("engine connection lost")
		o.clearRuntimeState()
		o.emit(Event{Type: EventConnectionLost, Err: failure})
	}()
}

// Shutdown terminates any engine process the shell owns. Called on window
// close; a detected-but-not-owned engine is left running.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.gen++
	o.state = StateIdle
	o.owned = false
	o.mu.Unlock()
	o.supervisor.Terminate()
	o.clearRuntimeState()
}

func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	stateTransitions.WithLabelValues(string(s)).Inc()
	log.WithField("state", string(s)).Debug("connection state")
}

func (o *Orchestrator) becomeReady(owned bool) {
	o.mu.Lock()
	o.state = StateReady
	o.owned = owned
	o.lastErr = nil
	o.mu.Unlock()
	stateTransitions.WithLabelValues(string(StateReady)).Inc()
	log.WithFields(log.Fields{"endpoint": o.ep.BaseURL(), "managed": owned}).Info("engine ready")
	ep := o.ep
	o.emit(Event{Type: EventServiceReady, Endpoint: &ep})
}

func (o *Orchestrator) fail(failure *LifecycleError) {
	o.mu.Lock()
	o.state = StateFailed
	o.owned = false
	o.lastErr = failure
	o.mu.Unlock()
	stateTransitions.WithLabelValues(string(StateFailed)).Inc()
	log.WithField("code", string(failure.Code)).Error(failure.Error())
	o.emit(Event{Type: EventServiceFailed, Err: failure})
}

func (o *Orchestrator) setInFlight(v bool) {
	o.mu.Lock()
	o.inFlight = v
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	observers := make([]func(Event), len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (o *Orchestrator) persistRuntimeState(handle *Handle) {
	s := &RuntimeState{
		PID:          handle.PID(),
		ArtifactPath: handle.Artifact().Path,
		Mode:         string(handle.Artifact().Mode),
		StartedAt:    handle.StartedAt(),
	}
	if err := SaveRuntimeState(o.statePath, s); err != nil {
		log.WithError(err).Warn("could not persist runtime state")
	}
}

func (o *Orchestrator) clearRuntimeState() {
	if err := DeleteRuntimeState(o.statePath); err != nil {
		log.WithError(err).Warn("could not clear runtime state")
	}
}
