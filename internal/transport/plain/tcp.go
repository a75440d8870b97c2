package plain

import (
	"context"
	"net"
	"time"

	"github.com/ssahani/systemd-netlogd/internal/address"
	"github.com/ssahani/systemd-netlogd/internal/transport"
)

// TCPTransport is a connected stream socket. Unlike UDP, a gather list can
// be handed straight to net.Buffers.WriteTo, which uses writev on the
// underlying *net.TCPConn — the direct Go mapping of the formatter's
// scatter/gather output onto one syscall.
type TCPTransport struct {
	conn    *net.TCPConn
	timeout time.Duration
}

// DialTCP connects to endpoint and applies best-effort socket tuning
// (TCP_NODELAY, SO_KEEPALIVE and friends, SO_SNDBUF) from cfg.
func DialTCP(ctx context.Context, endpoint address.Endpoint, cfg Config, log func(string, error)) (*TCPTransport, error) {
	d := net.Dialer{}
	raw, err := d.DialContext(ctx, endpoint.DialNetwork("tcp"), endpoint.String())
	if err != nil {
		return nil, transport.ErrorConnect.Error(err)
	}

	conn, ok := raw.(*net.TCPConn)
	if !ok {
		_ = raw.Close()
		return nil, transport.ErrorConnect.Error(nil)
	}

	applyTCPOptions(conn, cfg, log)

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	return &TCPTransport{conn: conn, timeout: timeout}, nil
}

func (t *TCPTransport) Write(ctx context.Context, data net.Buffers) (int, error) {
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return 0, transport.ErrorTransportBroken.Error(err)
	}

	n64, err := data.WriteTo(t.conn)
	n := int(n64)
	if err != nil {
		if isTimeout(err) {
			return n, transport.ErrorTimeout.Error(err)
		}
		return n, transport.ErrorTransportBroken.Error(err)
	}
	return n, nil
}

// Close performs SHUT_RDWR before closing the fd, matching
// manager_close_network_socket's TCP teardown path.
func (t *TCPTransport) Close() error {
	_ = t.conn.CloseRead()
	_ = t.conn.CloseWrite()
	return t.conn.Close()
}

func (t *TCPTransport) NegotiatedInfo() string { return "" }
