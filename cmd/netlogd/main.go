// Command netlogd forwards the systemd journal to a remote syslog
// collector over UDP, TCP, TLS, or DTLS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ssahani/systemd-netlogd/internal/app"
)

// Version, Commit, and BuildDate are overridden at build time via
// -ldflags, the idiomatic Go substitute for the teacher's dedicated
// version package (which ships no usable non-test source in this tree).
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "netlogd",
		Short:   "Forward the systemd journal to a remote syslog collector",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a config file (toml/yaml/json)")
	flags.String("server", "", "remote syslog server hostname or IP")
	flags.Uint16("port", 514, "remote syslog server port")
	flags.String("protocol", "udp", "transport protocol: udp, tcp, tls, dtls")
	flags.String("log-format", "rfc5424", "wire format: rfc5424, rfc3339")
	flags.String("auth-mode", "verify-peer", "TLS/DTLS peer authentication: none, verify-peer")
	flags.StringP("namespace", "j", "", "journal namespace to read from")
	flags.String("structured-data", "", "RFC 5424 structured-data override block")
	flags.String("state-file", "/var/lib/netlogd/state", "path for cursor persistence")
	flags.Bool("keep-alive", true, "enable TCP keepalive")
	flags.String("keep-alive-time", "", "TCP keepalive idle time (e.g. 30s)")
	flags.String("keep-alive-interval", "", "TCP keepalive probe interval")
	flags.Int("keep-alive-count", 0, "TCP keepalive probe count")
	flags.Bool("no-delay", true, "disable Nagle's algorithm on TCP")
	flags.String("send-buffer", "", "socket send buffer size (e.g. 64KiB)")
	flags.String("connection-retry", "30s", "base backoff before a reconnect attempt")
	flags.Int("rate-limit-burst", 0, "rate limit burst; 0 disables limiting")
	flags.String("rate-limit-interval", "1s", "rate limit interval")
	flags.Bool("debug", false, "enable debug-level logging")

	_ = v.BindPFlags(flags)
	bindFlagAliases(v, flags)
	bindEnv(v)

	cobra.OnInitialize(func() {
		if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
			v.SetConfigFile(cfgFile)
			_ = v.ReadInConfig()
		}
	})

	return cmd
}

// bindEnv lets every flag be overridden by an NETLOGD_-prefixed
// environment variable, matching viper's conventional flag/env/file
// precedence.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("NETLOGD")
	v.AutomaticEnv()
}

// bindFlagAliases re-registers every dashed flag name under the
// mapstructure key RawConfig actually unmarshals into (underscored).
// v.BindPFlags alone keys viper by the flag's own name, so a flag like
// "log-format" would silently never reach RawConfig.LogFormat, which
// binds to "log_format".
func bindFlagAliases(v *viper.Viper, flags *pflag.FlagSet) {
	aliases := map[string]string{
		"log-format":          "log_format",
		"auth-mode":           "auth_mode",
		"structured-data":     "structured_data",
		"state-file":          "state_file",
		"keep-alive":          "keep_alive",
		"keep-alive-time":     "keep_alive_time",
		"keep-alive-interval": "keep_alive_interval",
		"keep-alive-count":    "keep_alive_count",
		"no-delay":            "no_delay",
		"send-buffer":         "send_buffer",
		"connection-retry":    "connection_retry",
		"rate-limit-burst":    "rate_limit_burst",
		"rate-limit-interval": "rate_limit_interval",
	}
	for flagName, key := range aliases {
		_ = v.BindPFlag(key, flags.Lookup(flagName))
	}
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.New(v).Start(ctx)
}
