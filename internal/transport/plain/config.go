// Package plain implements the UDP and TCP transports: datagram/stream
// send with a bounded writability wait and best-effort socket tuning.
//
// Grounded on original_source/netlog-network.c: sendmsg_loop's EINTR/EAGAIN
// handling (Go's runtime poller already retries EINTR internally, so the
// 200ms EAGAIN wait becomes a write deadline) and manager_open_network_socket's
// socket option list (IP_MULTICAST_LOOP, TCP_NODELAY, SO_KEEPALIVE,
// TCP_KEEPIDLE/INTVL/CNT, SO_SNDBUF), each applied best-effort.
package plain

import "time"

// Config carries the per-connection socket tuning from ManagerConfig
// (spec §3) that plain transports apply best-effort at dial time.
type Config struct {
	KeepAlive         bool
	KeepAliveTime     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int
	NoDelay           bool
	SendBuffer        int

	// WriteTimeout bounds how long a single Write waits for the socket
	// to become writable before reporting transport.ErrorTimeout. The
	// spec names 200ms for the plain transports.
	WriteTimeout time.Duration
}

// DefaultWriteTimeout matches spec.md §5's 200ms plain-send wait.
const DefaultWriteTimeout = 200 * time.Millisecond
