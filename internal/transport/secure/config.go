// Package secure implements the TLS and DTLS transports: non-blocking
// secure I/O mapped onto idiomatic Go as a goroutine running the blocking
// handshake/write primitive plus a channel reporting completion back to
// the connection state machine, which is the only goroutine allowed to
// mutate ConnectionState (spec.md §5).
//
// Grounded on original_source/netlog-dtls.c for the handshake/write/
// teardown discipline (one session per connect attempt, bind-after-fd,
// free-after-shutdown, 3s receive timeout) and on the teacher's
// certificates package for TLS config (cert/CA/cipher/curve/version
// management, AuthMode driving InsecureSkipVerify).
package secure

import (
	"crypto/tls"

	"github.com/ssahani/systemd-netlogd/certificates"
)

// AuthMode mirrors ManagerConfig.AuthMode: either no verification or full
// peer-certificate-chain verification against the system trust store.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthVerifyPeer
)

func ParseAuthMode(s string) AuthMode {
	if s == "verify-peer" {
		return AuthVerifyPeer
	}
	return AuthNone
}

// buildTLSConfig derives a *tls.Config from the shared certificates.TLSConfig
// builder, populating SNI from the endpoint's server name and applying
// AuthMode's verification policy.
func buildTLSConfig(tcfg certificates.TLSConfig, serverName string, mode AuthMode) *tls.Config {
	cnf := tcfg.TLS(serverName)
	if mode == AuthNone {
		cnf.InsecureSkipVerify = true
	}
	return cnf
}
