// Package manager wires address resolution, transport, the connection
// state machine, the cursor tracker, and rate limiting into the single
// orchestrator a Journal Pump drives one record at a time.
//
// Grounded on original_source/netlog-manager.h (the single Manager
// struct owning the resolve query, socket, address, and cursor strings)
// and netlog-network.c's manager_push_to_network, which lazily connects
// if not already connected, then formats and sends, and on a hard send
// error re-arms the connect attempt inline rather than waiting for the
// reactor's next tick — Forward below preserves that exact ordering.
package manager

import (
	"context"
	"time"

	liberr "github.com/ssahani/systemd-netlogd/errors"
	"github.com/ssahani/systemd-netlogd/certificates"
	"github.com/ssahani/systemd-netlogd/internal/address"
	"github.com/ssahani/systemd-netlogd/internal/connstate"
	"github.com/ssahani/systemd-netlogd/internal/cursor"
	"github.com/ssahani/systemd-netlogd/internal/netwatch"
	"github.com/ssahani/systemd-netlogd/internal/ratelimit"
	"github.com/ssahani/systemd-netlogd/internal/resolver"
	"github.com/ssahani/systemd-netlogd/internal/syslogfmt"
	"github.com/ssahani/systemd-netlogd/internal/transport"
	"github.com/ssahani/systemd-netlogd/internal/transport/plain"
	"github.com/ssahani/systemd-netlogd/internal/transport/secure"
)

const (
	ErrorConfig liberr.CodeError = iota + liberr.MinPkgManager
)

var isCodeError = false

func IsCodeError() bool { return isCodeError }

func init() {
	isCodeError = liberr.ExistInMapMessage(ErrorConfig)
	liberr.RegisterIdFctMessage(ErrorConfig, getMessage)
}

func getMessage(code liberr.CodeError) string {
	if code == ErrorConfig {
		return "manager: invalid configuration"
	}
	return ""
}

// Protocol selects the wire transport, matching spec.md §3's
// ManagerConfig.Protocol.
type Protocol int

const (
	ProtoUDP Protocol = iota
	ProtoTCP
	ProtoTLS
	ProtoDTLS
)

func (p Protocol) requiresHandshake() bool { return p == ProtoTLS || p == ProtoDTLS }

// Config is spec.md §3's ManagerConfig, plus the Namespace and Debug
// fields SPEC_FULL.md §3.1 adds.
type Config struct {
	Server             string
	Port               uint16
	Protocol           Protocol
	LogFormat          syslogfmt.Format
	AuthMode           secure.AuthMode
	Namespace          string
	StructuredData     string
	StateFile          string
	KeepAlive          bool
	KeepAliveTime      time.Duration
	KeepAliveInterval  time.Duration
	KeepAliveCount     int
	NoDelay            bool
	SendBuffer         int
	ConnectionRetryUsec time.Duration
	RateLimitBurst     int
	RateLimitInterval  time.Duration
	Debug              bool
}

// Logger is the minimal surface Manager needs for lifecycle logging —
// satisfied directly by logger.Logger (sirupsen/logrus under the hood),
// kept narrow here so tests can supply a trivial stub instead of
// constructing a real logger.Logger.
type Logger interface {
	Debug(message string, data interface{}, args ...interface{})
	Info(message string, data interface{}, args ...interface{})
	Error(message string, data interface{}, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, interface{}, ...interface{}) {}
func (noopLogger) Info(string, interface{}, ...interface{})  {}
func (noopLogger) Error(string, interface{}, ...interface{}) {}

// Manager owns exactly one in-flight Endpoint (invariant 1, spec.md §3)
// and the single connstate.Machine driving it.
type Manager struct {
	cfg  Config
	tcfg certificates.TLSConfig
	log  Logger

	resolver *resolver.Resolver
	machine  *connstate.Machine
	cursor   *cursor.Tracker
	limiter  *ratelimit.Limiter

	endpoint  address.Endpoint
	transport transport.Transport
}

// New builds a Manager. tcfg may be nil when protocol is udp/tcp.
func New(cfg Config, tcfg certificates.TLSConfig, cur *cursor.Tracker, log Logger) *Manager {
	if log == nil {
		log = noopLogger{}
	}
	return &Manager{
		cfg:      cfg,
		tcfg:     tcfg,
		log:      log,
		resolver: resolver.New(),
		machine:  connstate.New(cfg.ConnectionRetryUsec, cfg.Protocol.requiresHandshake()),
		cursor:   cur,
		limiter:  ratelimit.New(cfg.RateLimitBurst, cfg.RateLimitInterval),
	}
}

// State reports the connection state machine's current state.
func (m *Manager) State() connstate.State { return m.machine.Current() }

// OnNetworkEvent feeds a network-change notification into the state
// machine, matching spec.md §4.8's network-up/network-down tie-breaks.
func (m *Manager) OnNetworkEvent(ev netwatch.Event) {
	if ev.Up {
		m.machine.Handle(connstate.EventNetworkUp)
	} else {
		m.machine.Handle(connstate.EventNetworkDown)
		m.teardown()
	}
}

// Shutdown requests a graceful drain, matching Ready -> Draining.
func (m *Manager) Shutdown() {
	m.machine.Handle(connstate.EventShutdown)
	m.teardown()
	m.machine.DrainComplete()
}

// Close tears down unconditionally (SIGINT/SIGTERM already reached
// cmd/netlogd, which cancels the context callers pass to Forward/ensureReady;
// Close just releases the socket).
func (m *Manager) Close() {
	m.teardown()
	m.machine.Close()
}

func (m *Manager) teardown() {
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
}

// Forward is manager_push_to_network: ensure the transport is Ready
// (driving resolve/connect/handshake inline if not), format the record,
// and write it. A hard write error re-arms Backoff immediately rather
// than waiting for the next pump tick, exactly as netlog-network.c's
// protocol_send does on send failure.
func (m *Manager) Forward(ctx context.Context, rec syslogfmt.Record) error {
	if err := m.ensureReady(ctx); err != nil {
		return err
	}

	streamFraming := m.cfg.Protocol == ProtoTCP || m.cfg.Protocol == ProtoTLS
	buf := syslogfmt.Render(rec, m.cfg.LogFormat, m.cfg.StructuredData, streamFraming)

	n, err := m.transport.Write(ctx, buf)
	if err != nil {
		if err == transport.ErrWouldBlock {
			// Keep the current record; the caller must retry it next
			// tick without advancing the cursor (spec.md §4.8).
			return err
		}
		m.machine.Handle(connstate.EventWriteErr)
		m.teardown()
		return err
	}
	_ = n
	return nil
}

// ensureReady drives Idle/Backoff through Resolving/Connecting/
// Handshaking to Ready, synchronously, from the caller's goroutine —
// acceptable because the engine has exactly one Manager per reactor and
// Forward is only ever called from the journal pump's single goroutine
// (spec.md §5's single-threaded reactor model).
//
// While Backoff, each call polls the armed timer (PollBackoff) rather
// than waiting for a separate timer goroutine to post
// EventBackoffTimerFired, since the pump already calls Forward on every
// record and that is reactor tick enough to notice an elapsed deadline.
func (m *Manager) ensureReady(ctx context.Context) error {
	if m.machine.Current() == connstate.Ready {
		return nil
	}
	if m.machine.Current() == connstate.Idle {
		m.machine.Handle(connstate.EventStart)
	}
	if m.machine.Current() == connstate.Backoff {
		m.machine.PollBackoff()
	}
	if m.machine.Current() != connstate.Resolving {
		// Still Backoff (timer not due yet), Connecting/Handshaking from
		// an earlier in-flight attempt, or Draining/Closed: none of these
		// are a configuration fault, just "not ready yet" — the pump
		// must drop this record without advancing the cursor and retry
		// on the next one, exactly like a would-block write.
		return transport.ErrWouldBlock
	}

	res := <-m.resolver.Resolve(ctx, m.cfg.Server, false)
	if res.Err != nil {
		m.machine.Handle(connstate.EventResolveErr)
		return res.Err
	}
	m.machine.Handle(connstate.EventResolveOK)
	m.endpoint = address.NewEndpoint(res.IP, m.cfg.Port, m.cfg.Server)

	if err := m.connect(ctx); err != nil {
		m.machine.Handle(connstate.EventConnectErr)
		return err
	}
	m.machine.Handle(connstate.EventConnectOK)

	if m.cfg.Protocol.requiresHandshake() {
		if err := m.handshake(ctx); err != nil {
			m.machine.Handle(connstate.EventHandshakeErr)
			return err
		}
		m.machine.Handle(connstate.EventHandshakeOK)
	}

	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	plainCfg := plain.Config{
		KeepAlive:         m.cfg.KeepAlive,
		KeepAliveTime:     m.cfg.KeepAliveTime,
		KeepAliveInterval: m.cfg.KeepAliveInterval,
		KeepAliveCount:    m.cfg.KeepAliveCount,
		NoDelay:           m.cfg.NoDelay,
		SendBuffer:        m.cfg.SendBuffer,
	}

	logFn := func(msg string, err error) {
		if err != nil {
			m.log.Debug(msg, nil, err)
		}
	}

	switch m.cfg.Protocol {
	case ProtoUDP:
		tr, err := plain.DialUDP(m.endpoint, plainCfg, logFn)
		if err != nil {
			return err
		}
		m.transport = tr
	case ProtoTCP:
		tr, err := plain.DialTCP(ctx, m.endpoint, plainCfg, logFn)
		if err != nil {
			return err
		}
		m.transport = tr
	case ProtoTLS:
		tr, err := secure.DialTLS(ctx, m.endpoint, m.tcfg, m.cfg.AuthMode, 0)
		if err != nil {
			return err
		}
		m.transport = tr
	case ProtoDTLS:
		tr, err := secure.DialDTLS(ctx, m.endpoint, m.tcfg, m.cfg.AuthMode, 0)
		if err != nil {
			return err
		}
		m.transport = tr
	}
	return nil
}

func (m *Manager) handshake(ctx context.Context) error {
	switch tr := m.transport.(type) {
	case *secure.TLSTransport:
		return <-tr.HandshakeAsync(ctx)
	case *secure.DTLSTransport:
		return <-tr.HandshakeAsync(ctx, m.endpoint, m.tcfg, m.cfg.AuthMode)
	}
	return nil
}

// RateLimiter exposes the Manager's limiter to the journal pump, which
// owns the record-read loop and must check it before calling Forward.
func (m *Manager) RateLimiter() *ratelimit.Limiter { return m.limiter }

// Cursor exposes the Manager's cursor tracker to the journal pump.
func (m *Manager) Cursor() *cursor.Tracker { return m.cursor }
