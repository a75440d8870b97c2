// Package connstate implements the single-instance connection state
// machine described in spec.md §4.8: it owns all transitions between
// resolving, connecting, (handshaking,) sending, and backing off, and
// every other component posts events into it rather than mutating
// connection state directly.
//
// Grounded on original_source/src/netlog/netlog-manager.h's
// manager_connect/manager_disconnect declarations and their call sites
// in netlog-network.c — manager_push_to_network calls manager_connect
// inline whenever the protocol-specific "connected" flag is unset, and
// protocol_send's callers do the same again on a send failure, the same
// "ensure ready, reconnect inline on error" shape this package's
// Machine.Handle/PollBackoff give the Go state machine — reimplemented
// here as an explicit enum+transition table instead of scattered if/else
// on socket state, plus the reactor-goroutine mapping already used by
// internal/transport/secure for the Handshaking state's async
// completion.
package connstate

import (
	"math/rand"
	"time"
)

// State is one node of the connection lifecycle.
type State int

const (
	Idle State = iota
	Resolving
	Connecting
	Handshaking
	Ready
	Draining
	Backoff
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Backoff:
		return "backoff"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is something that happened that the machine must react to.
// Events are posted by the resolver, transport dialers, the journal
// pump's write path, the network watcher, and signal handling — never
// generated internally except BackoffTimerFired, which the machine's own
// timer produces.
type Event int

const (
	EventStart Event = iota
	EventResolveOK
	EventResolveErr
	EventConnectOK
	EventConnectErr
	EventHandshakeOK
	EventHandshakeErr
	EventWriteErr
	EventWriteWouldBlock
	EventShutdown
	EventNetworkDown
	EventNetworkUp
	EventBackoffTimerFired
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventResolveOK:
		return "resolve-ok"
	case EventResolveErr:
		return "resolve-err"
	case EventConnectOK:
		return "connect-ok"
	case EventConnectErr:
		return "connect-err"
	case EventHandshakeOK:
		return "handshake-ok"
	case EventHandshakeErr:
		return "handshake-err"
	case EventWriteErr:
		return "write-err"
	case EventWriteWouldBlock:
		return "write-would-block"
	case EventShutdown:
		return "shutdown"
	case EventNetworkDown:
		return "network-down"
	case EventNetworkUp:
		return "network-up"
	case EventBackoffTimerFired:
		return "backoff-timer-fired"
	default:
		return "unknown"
	}
}

// backoffCapMultiplier is the "10x the base" ceiling spec.md §4.8 names.
const backoffCapMultiplier = 10

// readyResetWindow is how long the transport must stay in Ready before a
// subsequent failure resets the backoff schedule to its base, rather than
// continuing to grow from wherever it left off.
const readyResetWindow = 30 * time.Second

// Clock is the time source the machine uses, so tests can fake time
// instead of sleeping through real backoff windows.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Machine drives the connection lifecycle for one Manager. It performs
// no I/O itself: callers (the resolver, transport dialers, journal pump)
// report outcomes via Handle, and read Current()/NextBackoff() to decide
// what to do next.
type Machine struct {
	state State

	requiresHandshake bool
	backoffBase        time.Duration
	backoffCurrent     time.Duration
	backoffPrimed      bool
	readyEnteredAt     time.Time
	backoffTimerFireAt time.Time

	clock Clock
	rng   *rand.Rand
}

// New builds a Machine. backoffBase is spec.md's ConnectionRetryUsec;
// requiresHandshake selects whether Connecting leads to Handshaking
// (TLS/DTLS) or directly to Ready (UDP/TCP).
func New(backoffBase time.Duration, requiresHandshake bool) *Machine {
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	return &Machine{
		state:             Idle,
		requiresHandshake: requiresHandshake,
		backoffBase:       backoffBase,
		backoffCurrent:    backoffBase,
		clock:             realClock{},
		rng:               rand.New(rand.NewSource(1)),
	}
}

// Current reports the machine's present state.
func (m *Machine) Current() State { return m.state }

// Handle applies event to the machine's current state and returns the
// resulting state. Events that do not apply to the current state (for
// example a ConnectOK arriving while Idle) are ignored and the state is
// returned unchanged, matching the reactor model's "handlers run to
// completion, no preemption" rule: a late callback from an abandoned
// attempt must not corrupt a newer one.
func (m *Machine) Handle(ev Event) State {
	// SIGINT/SIGTERM handling is modeled by the caller calling Close()
	// directly rather than as an Event, since "any state -> Closed" is
	// unconditional and doesn't participate in per-state dispatch.

	switch m.state {
	case Idle:
		if ev == EventStart {
			m.state = Resolving
		}

	case Resolving:
		switch ev {
		case EventResolveOK:
			m.state = Connecting
		case EventResolveErr:
			m.enterBackoff()
		}

	case Connecting:
		switch ev {
		case EventConnectOK:
			if m.requiresHandshake {
				m.state = Handshaking
			} else {
				m.enterReady()
			}
		case EventConnectErr:
			m.enterBackoff()
		}

	case Handshaking:
		switch ev {
		case EventHandshakeOK:
			m.enterReady()
		case EventHandshakeErr:
			m.enterBackoff()
		}

	case Ready:
		switch ev {
		case EventShutdown:
			m.state = Draining
		case EventWriteErr:
			m.enterBackoff()
		case EventNetworkDown:
			// Best-effort close is the caller's responsibility (it owns
			// the transport handle); the machine only records the
			// resulting state.
			m.state = Idle
		case EventWriteWouldBlock:
			// No state transition: the record stays "current" and the
			// caller re-arms write-readiness interest, per spec.md's
			// would-block tie-break.
		}

	case Backoff:
		switch ev {
		case EventBackoffTimerFired:
			m.state = Resolving
		case EventNetworkUp:
			// Fast-forward the timer to zero rather than changing state
			// directly: the caller is expected to re-check
			// BackoffFireAt (or call PollBackoff), which delivers
			// EventBackoffTimerFired on its next reactor tick.
			m.backoffTimerFireAt = m.clock.Now()
		}

	case Draining, Closed:
		// Terminal with respect to ordinary events; only Close() moves
		// out of them (Closed has no way out at all).
	}

	return m.state
}

// PollBackoff checks, while in Backoff, whether the armed timer has
// reached its fire deadline and, if so, posts EventBackoffTimerFired
// itself, moving the machine to Resolving. Callers that drive the
// machine from a single reactor goroutine (rather than a real timer
// channel) call this once per reconnect attempt so Backoff is never a
// dead end. A no-op in any other state.
func (m *Machine) PollBackoff() State {
	if m.state != Backoff {
		return m.state
	}
	if !m.clock.Now().Before(m.backoffTimerFireAt) {
		return m.Handle(EventBackoffTimerFired)
	}
	return m.state
}

// Close forces the machine into Closed from any state, modeling the
// unconditional "any state -> Closed" transition on SIGINT/SIGTERM.
func (m *Machine) Close() State {
	m.state = Closed
	return m.state
}

// DrainComplete moves Draining to Closed once the caller has finished
// its best-effort graceful shutdown.
func (m *Machine) DrainComplete() State {
	if m.state == Draining {
		m.state = Closed
	}
	return m.state
}

// enterReady marks the ready-window start used by the backoff-reset rule
// and transitions to Ready.
func (m *Machine) enterReady() {
	m.state = Ready
	m.readyEnteredAt = m.clock.Now()
}

// enterBackoff computes the next backoff duration — doubling the
// previous one unless the connection spent at least readyResetWindow in
// Ready, in which case the schedule resets to its base — shaves up to 25%
// off it as jitter, and arms the fire deadline.
func (m *Machine) enterBackoff() {
	longLivedReady := !m.readyEnteredAt.IsZero() && m.clock.Now().Sub(m.readyEnteredAt) >= readyResetWindow
	if longLivedReady {
		m.backoffPrimed = false
	}
	m.readyEnteredAt = time.Time{}
	m.state = Backoff

	cap := m.backoffBase * backoffCapMultiplier
	if !m.backoffPrimed {
		m.backoffCurrent = m.backoffBase
		m.backoffPrimed = true
	} else {
		next := m.backoffCurrent * 2
		if next > cap {
			next = cap
		}
		m.backoffCurrent = next
	}

	m.backoffTimerFireAt = m.clock.Now().Add(m.jitter(m.backoffCurrent))
}

// jitter shaves up to 25% off d, spreading retries out across many
// Managers without ever exceeding the computed backoff (and therefore
// never exceeding base * min(2^K, backoffCapMultiplier) either).
func (m *Machine) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.25
	offset := m.rng.Float64() * delta
	return d - time.Duration(offset)
}

// NextBackoffDuration reports the duration the machine computed on its
// most recent enterBackoff call.
func (m *Machine) NextBackoffDuration() time.Duration {
	return m.backoffCurrent
}

// BackoffFireAt reports when the armed backoff timer should fire.
func (m *Machine) BackoffFireAt() time.Time {
	return m.backoffTimerFireAt
}

// SetClock overrides the time source, used by tests to avoid sleeping
// through real backoff windows.
func (m *Machine) SetClock(c Clock) {
	m.clock = c
}
