// Package transport defines the common contract shared by the plain
// (UDP/TCP) and secure (TLS/DTLS) transport implementations: the
// TransportHandle variant from the data model, the errors the connection
// state machine reacts to, and the "would-block" sentinel used by the
// secure reactor.
package transport

import (
	"context"
	"errors"
	"net"

	liberr "github.com/ssahani/systemd-netlogd/errors"
)

// ErrWouldBlock is returned by Transport.Write when the underlying socket
// is not yet writable (secure sessions) or a record's send is still
// pending. It is not a coded error: it is non-fatal reactor signaling, not
// a condition the connection state machine transitions on.
var ErrWouldBlock = errors.New("transport: write would block")

// Transport is the minimal contract the connection state machine and the
// journal pump drive: submit one record's gather list, or tear the
// handle down. Every concrete Transport owns exactly one file descriptor
// and closes it exactly once.
type Transport interface {
	// Write submits one record as a gather list. Implementations that
	// cannot use scatter/gather I/O natively (UDP, secure sessions)
	// flatten the list into a single buffer before writing, since a
	// datagram or TLS/DTLS record must leave as one write.
	Write(ctx context.Context, data net.Buffers) (int, error)

	// Close tears the transport down: best-effort graceful shutdown
	// where the protocol has one, then closes the fd. Idempotent.
	Close() error

	// NegotiatedInfo returns diagnostic detail about the established
	// session (e.g. negotiated TLS version/cipher); plain transports
	// return an empty string.
	NegotiatedInfo() string
}

const (
	ErrorConnect liberr.CodeError = iota + liberr.MinPkgTransport
	ErrorHandshake
	ErrorTransportClosed
	ErrorTransportBroken
	ErrorTimeout
)

var isCodeError = false

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = liberr.ExistInMapMessage(ErrorConnect)
	liberr.RegisterIdFctMessage(ErrorConnect, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorConnect:
		return "transport: connect failed"
	case ErrorHandshake:
		return "transport: secure handshake failed"
	case ErrorTransportClosed:
		return "transport: peer closed the connection"
	case ErrorTransportBroken:
		return "transport: unexpected I/O error"
	case ErrorTimeout:
		return "transport: send did not become writable in time"
	}
	return ""
}
