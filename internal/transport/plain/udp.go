package plain

import (
	"context"
	"net"
	"time"

	"github.com/ssahani/systemd-netlogd/internal/address"
	"github.com/ssahani/systemd-netlogd/internal/transport"
)

// UDPTransport sends one datagram per Write call. A gather list is
// flattened into a single buffer first: separate Write calls on a UDP
// socket would each leave as their own datagram, breaking the "one
// record, one datagram" contract.
type UDPTransport struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// DialUDP opens and connects a UDP socket to endpoint, applying the
// best-effort IP_MULTICAST_LOOP option the original source sets
// unconditionally on every socket it opens.
func DialUDP(endpoint address.Endpoint, cfg Config, log func(string, error)) (*UDPTransport, error) {
	raddr := &net.UDPAddr{IP: endpoint.IP, Port: int(endpoint.Port)}

	conn, err := net.DialUDP(endpoint.DialNetwork("udp"), nil, raddr)
	if err != nil {
		return nil, transport.ErrorConnect.Error(err)
	}

	applyMulticastLoop(conn, log)

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	return &UDPTransport{conn: conn, timeout: timeout}, nil
}

func (t *UDPTransport) Write(ctx context.Context, data net.Buffers) (int, error) {
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return 0, transport.ErrorTransportBroken.Error(err)
	}

	flat := flatten(data)
	n, err := t.conn.Write(flat)
	if err != nil {
		if isTimeout(err) {
			return n, transport.ErrorTimeout.Error(err)
		}
		return n, transport.ErrorTransportBroken.Error(err)
	}
	return n, nil
}

// Close closes the UDP socket directly; there is no graceful shutdown
// handshake for datagram sockets.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) NegotiatedInfo() string { return "" }

func flatten(bufs net.Buffers) []byte {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}
