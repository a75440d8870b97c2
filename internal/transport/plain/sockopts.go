package plain

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// logFunc lets callers observe best-effort option failures without pulling
// a full logger dependency into this package; nil is a valid no-op logger.
type logFunc func(msg string, err error)

func noopLog(string, error) {}

// applyTCPOptions sets TCP_NODELAY, SO_KEEPALIVE and the three keepalive
// timing knobs per Config. Every option failure is logged and ignored —
// spec.md §4.2: "each option failure is logged and ignored (best-effort)".
func applyTCPOptions(conn *net.TCPConn, cfg Config, log logFunc) {
	if log == nil {
		log = noopLog
	}

	if cfg.NoDelay {
		if err := conn.SetNoDelay(true); err != nil {
			log("set TCP_NODELAY", err)
		}
	}

	if cfg.KeepAlive {
		if err := conn.SetKeepAlive(true); err != nil {
			log("enable SO_KEEPALIVE", err)
		}
		if cfg.KeepAliveTime > 0 {
			if err := conn.SetKeepAlivePeriod(cfg.KeepAliveTime); err != nil {
				log("set TCP_KEEPIDLE", err)
			}
		}
		applyKeepaliveIntervalCount(conn, cfg, log)
	}

	if cfg.SendBuffer > 0 {
		if err := conn.SetWriteBuffer(cfg.SendBuffer); err != nil {
			log("set SO_SNDBUF", err)
		}
	}
}

// applyKeepaliveIntervalCount sets TCP_KEEPINTVL/TCP_KEEPCNT directly via
// the raw socket, since net.TCPConn exposes only the idle time knob.
func applyKeepaliveIntervalCount(conn *net.TCPConn, cfg Config, log logFunc) {
	if cfg.KeepAliveInterval <= 0 && cfg.KeepAliveCount <= 0 {
		return
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		log("access raw TCP socket for keepalive tuning", err)
		return
	}

	ctrlErr := raw.Control(func(fd uintptr) {
		if cfg.KeepAliveInterval > 0 {
			secs := int(cfg.KeepAliveInterval / time.Second)
			if secs < 1 {
				secs = 1
			}
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
				log("set TCP_KEEPINTVL", err)
			}
		}
		if cfg.KeepAliveCount > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cfg.KeepAliveCount); err != nil {
				log("set TCP_KEEPCNT", err)
			}
		}
	})
	if ctrlErr != nil {
		log("control raw TCP socket for keepalive tuning", ctrlErr)
	}
}

// applyMulticastLoop sets IP_MULTICAST_LOOP on a UDP socket, matching
// manager_open_network_socket's unconditional option in the original
// source. It is best-effort: some kernels/namespaces reject the option on
// a unicast-only socket and that is not a send-path failure.
func applyMulticastLoop(conn *net.UDPConn, log logFunc) {
	if log == nil {
		log = noopLog
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		log("access raw UDP socket for multicast loop option", err)
		return
	}

	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 1); err != nil {
			// Not fatal: IPv6-only sockets reject the IPv4 option name.
			_ = err
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, 1); err != nil {
			_ = err
		}
	})
	if ctrlErr != nil {
		log("control raw UDP socket for multicast loop option", ctrlErr)
	}
}

// isTimeout reports whether err is a deadline-exceeded network error, the
// condition spec.md §4.2 maps to Timeout/TransportBroken.
func isTimeout(err error) bool {
	var ne net.Error
	if ok := asNetError(err, &ne); ok {
		return ne.Timeout()
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
