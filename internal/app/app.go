// Package app wires CLI flags, a config file, and validation into a
// manager.Config, and owns the daemon's single lifecycle component
// (Start/Reload/Stop), the shape of which is grounded on the teacher's
// config.Component interface.
//
// Grounded on the teacher's config package (Component lifecycle) and
// certificates.Config's own validator.Validate-based Validate method.
// Reload runs only when a caller invokes it; this package does not watch
// the config file for changes.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	units "github.com/docker/go-units"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ssahani/systemd-netlogd/certificates"
	"github.com/ssahani/systemd-netlogd/duration"
	liberr "github.com/ssahani/systemd-netlogd/errors"
	"github.com/ssahani/systemd-netlogd/internal/cursor"
	"github.com/ssahani/systemd-netlogd/internal/journal"
	"github.com/ssahani/systemd-netlogd/internal/manager"
	"github.com/ssahani/systemd-netlogd/internal/netwatch"
	"github.com/ssahani/systemd-netlogd/internal/syslogfmt"
	"github.com/ssahani/systemd-netlogd/internal/transport/secure"
	"github.com/ssahani/systemd-netlogd/logger"
	loglvl "github.com/ssahani/systemd-netlogd/logger/level"
)

const (
	ErrorConfig liberr.CodeError = iota + liberr.MinPkgApp
)

var isCodeError = false

func IsCodeError() bool { return isCodeError }

func init() {
	isCodeError = liberr.ExistInMapMessage(ErrorConfig)
	liberr.RegisterIdFctMessage(ErrorConfig, getMessage)
}

func getMessage(code liberr.CodeError) string {
	if code == ErrorConfig {
		return "app: invalid configuration"
	}
	return ""
}

// RawConfig is the on-disk/flag shape viper binds into: plain strings
// and primitives, validated, then translated into manager.Config.
type RawConfig struct {
	Server            string `mapstructure:"server" validate:"required"`
	Port              uint16 `mapstructure:"port" validate:"required"`
	Protocol          string `mapstructure:"protocol" validate:"required,oneof=udp tcp tls dtls"`
	LogFormat         string `mapstructure:"log_format" validate:"required,oneof=rfc5424 rfc3339"`
	AuthMode          string `mapstructure:"auth_mode" validate:"omitempty,oneof=none verify-peer"`
	Namespace         string `mapstructure:"namespace"`
	StructuredData    string `mapstructure:"structured_data"`
	StateFile         string `mapstructure:"state_file" validate:"required"`
	KeepAlive         bool   `mapstructure:"keep_alive"`
	KeepAliveTime     string `mapstructure:"keep_alive_time"`
	KeepAliveInterval string `mapstructure:"keep_alive_interval"`
	KeepAliveCount    int    `mapstructure:"keep_alive_count"`
	NoDelay           bool   `mapstructure:"no_delay"`
	SendBuffer        string `mapstructure:"send_buffer"`
	ConnectionRetry   string `mapstructure:"connection_retry"`
	RateLimitBurst    int    `mapstructure:"rate_limit_burst"`
	RateLimitInterval string `mapstructure:"rate_limit_interval"`
	Debug             bool   `mapstructure:"debug"`
}

// Translate validates r and converts it to a manager.Config, parsing
// human-readable durations through the teacher's duration package and
// byte sizes through docker/go-units.
func (r RawConfig) Translate() (manager.Config, error) {
	v := validatorv10.New()
	if err := v.Struct(r); err != nil {
		return manager.Config{}, ErrorConfig.Error(err)
	}

	cfg := manager.Config{
		Server:            r.Server,
		Port:              r.Port,
		Namespace:         r.Namespace,
		StructuredData:    r.StructuredData,
		StateFile:         r.StateFile,
		KeepAlive:         r.KeepAlive,
		KeepAliveCount:    r.KeepAliveCount,
		NoDelay:           r.NoDelay,
		RateLimitBurst:    r.RateLimitBurst,
		Debug:             r.Debug,
	}

	switch r.Protocol {
	case "udp":
		cfg.Protocol = manager.ProtoUDP
	case "tcp":
		cfg.Protocol = manager.ProtoTCP
	case "tls":
		cfg.Protocol = manager.ProtoTLS
	case "dtls":
		cfg.Protocol = manager.ProtoDTLS
	}

	switch r.LogFormat {
	case "rfc5424":
		cfg.LogFormat = syslogfmt.RFC5424
	case "rfc3339":
		cfg.LogFormat = syslogfmt.RFC3339
	}

	cfg.AuthMode = secure.ParseAuthMode(r.AuthMode)

	if r.KeepAliveTime != "" {
		d, err := duration.Parse(r.KeepAliveTime)
		if err != nil {
			return manager.Config{}, ErrorConfig.Error(err)
		}
		cfg.KeepAliveTime = d.Time()
	}
	if r.KeepAliveInterval != "" {
		d, err := duration.Parse(r.KeepAliveInterval)
		if err != nil {
			return manager.Config{}, ErrorConfig.Error(err)
		}
		cfg.KeepAliveInterval = d.Time()
	}
	if r.ConnectionRetry != "" {
		d, err := duration.Parse(r.ConnectionRetry)
		if err != nil {
			return manager.Config{}, ErrorConfig.Error(err)
		}
		cfg.ConnectionRetryUsec = d.Time()
	} else {
		cfg.ConnectionRetryUsec = 30 * time.Second
	}
	if r.RateLimitInterval != "" {
		d, err := duration.Parse(r.RateLimitInterval)
		if err != nil {
			return manager.Config{}, ErrorConfig.Error(err)
		}
		cfg.RateLimitInterval = d.Time()
	}
	if r.SendBuffer != "" {
		n, err := units.RAMInBytes(r.SendBuffer)
		if err != nil {
			return manager.Config{}, ErrorConfig.Error(err)
		}
		cfg.SendBuffer = int(n)
	}

	return cfg, nil
}

// Component is the daemon's single lifecycle unit: it owns the viper
// instance, the manager, the journal pump, and the network watcher, and
// exposes the Start/Reload/Stop subset of the shape the teacher's config.Component
// interface names, scaled down to one component since this agent has no
// sibling components to depend on.
type Component struct {
	mu     sync.Mutex
	v      *viper.Viper
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Component bound to a viper instance the caller has
// already populated from flags/env/config file.
func New(v *viper.Viper) *Component {
	return &Component{v: v}
}

// Start loads, validates, and translates the bound configuration, then
// runs the manager + journal pump + network watcher until ctx is
// cancelled or Stop is called.
func (c *Component) Start(ctx context.Context) error {
	var raw RawConfig
	if err := c.v.Unmarshal(&raw); err != nil {
		return ErrorConfig.Error(err)
	}
	cfg, err := raw.Translate()
	if err != nil {
		return err
	}

	cur, err := cursor.Open(cfg.StateFile)
	if err != nil {
		return err
	}

	var tcfg certificates.TLSConfig
	if cfg.Protocol == manager.ProtoTLS || cfg.Protocol == manager.ProtoDTLS {
		tcfg = certificates.New()
	}

	log := logger.New(ctx)
	if cfg.Debug {
		log.SetLevel(loglvl.DebugLevel)
	}

	mgr := manager.New(cfg, tcfg, cur, log)

	src, err := journal.OpenNamespace(cfg.Namespace)
	if err != nil {
		return err
	}
	defer src.Close()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()
	defer close(c.done)

	watcher, err := netwatch.New(netwatch.DefaultStatePath, netwatch.DefaultDebounce)
	if err == nil {
		events := watcher.Run(runCtx)
		go func() {
			for ev := range events {
				mgr.OnNetworkEvent(ev)
			}
		}()
		defer watcher.Close()
	}

	pump := journal.NewPump(src, mgr, mgr.RateLimiter(), mgr.Cursor(), 100, 5*time.Second, func(notice string) {
		log.Info(fmt.Sprintf("rate limit: %s", notice), nil)
	})

	err = pump.Run(runCtx)
	mgr.Close()
	return err
}

// Stop cancels the running Start call and waits for it to return.
func (c *Component) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Reload re-reads the bound viper instance; since the pump and manager
// read configuration only at Start, a reload is implemented as a
// Stop+Start cycle, matching the teacher's Reload semantics of
// "reconfigure or restart, but never leave the component half-updated".
func (c *Component) Reload(ctx context.Context) error {
	c.Stop()
	return c.Start(ctx)
}
