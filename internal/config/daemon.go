package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/binlink/internal/filesink"
	"github.com/danmuck/binlink/internal/listener"
)

const (
	SinkNone = "none"
	SinkDisk = "disk"
	SinkS3   = "s3"
)

// Daemon is the resolved linkd configuration.
type Daemon struct {
	Listener  listener.Config
	AdminAddr string
	// AdminToken guards the admin control routes when set.
	AdminToken string
	Sink       Sink
}

type Sink struct {
	Kind string
	Dir  string
	S3   filesink.S3Config
}

func DefaultDaemon() Daemon {
	return Daemon{
		Listener:  listener.DefaultConfig(),
		AdminAddr: "127.0.0.1:7410",
		Sink:      Sink{Kind: SinkDisk, Dir: "received"},
	}
}

// DaemonFile is linkd.toml as written on disk.
type DaemonFile struct {
	Addr         string   `toml:"addr" comment:"link listen address"`
	AdminAddr    string   `toml:"admin_addr" comment:"admin http address; empty disables"`
	AdminToken   string   `toml:"admin_token" comment:"bearer token for admin ping and close; empty leaves them open"`
	RestartDelay string   `toml:"restart_delay" comment:"pause before the accept loop rebinds after a failure"`
	Link         LinkFile `toml:"link"`
	Sink         SinkFile `toml:"sink"`
}

type SinkFile struct {
	Kind string            `toml:"kind" comment:"none, disk or s3"`
	Dir  string            `toml:"dir" comment:"disk sink root"`
	S3   filesink.S3Config `toml:"s3"`
}

func daemonFileFrom(cfg Daemon) DaemonFile {
	return DaemonFile{
		Addr:         cfg.Listener.Addr,
		AdminAddr:    cfg.AdminAddr,
		AdminToken:   cfg.AdminToken,
		RestartDelay: cfg.Listener.RestartDelay.String(),
		Link:         linkFileFrom(cfg.Listener.Link),
		Sink:         SinkFile{Kind: cfg.Sink.Kind, Dir: cfg.Sink.Dir, S3: cfg.Sink.S3},
	}
}

// LoadDaemon reads linkd.toml over DefaultDaemon.
func LoadDaemon(path string) (Daemon, error) {
	cfg := DefaultDaemon()
	var raw DaemonFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Daemon{}, fmt.Errorf("load linkd config: %w", err)
	}

	o := &overlay{meta: meta}
	o.str(&cfg.Listener.Addr, raw.Addr, "addr")
	o.str(&cfg.AdminAddr, raw.AdminAddr, "admin_addr")
	o.str(&cfg.AdminToken, raw.AdminToken, "admin_token")
	o.duration(&cfg.Listener.RestartDelay, raw.RestartDelay, "restart_delay")
	o.str(&cfg.Sink.Kind, raw.Sink.Kind, "sink", "kind")
	o.str(&cfg.Sink.Dir, raw.Sink.Dir, "sink", "dir")
	if meta.IsDefined("sink", "s3") {
		cfg.Sink.S3 = raw.Sink.S3
	}
	if o.err != nil {
		return Daemon{}, fmt.Errorf("load linkd config: %w", o.err)
	}
	if err := applyLink(meta, raw.Link, &cfg.Listener.Link); err != nil {
		return Daemon{}, fmt.Errorf("load linkd config: %w", err)
	}
	if err := ValidateDaemon(cfg); err != nil {
		return Daemon{}, fmt.Errorf("load linkd config: %w", err)
	}
	return cfg, nil
}

func ValidateDaemon(cfg Daemon) error {
	if strings.TrimSpace(cfg.Listener.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.Listener.RestartDelay < 0 || cfg.Listener.RestartDelay > time.Minute {
		return fmt.Errorf("restart_delay %s out of range", cfg.Listener.RestartDelay)
	}
	switch cfg.Sink.Kind {
	case SinkNone:
	case SinkDisk:
		if strings.TrimSpace(cfg.Sink.Dir) == "" {
			return fmt.Errorf("sink.dir is required for the disk sink")
		}
	case SinkS3:
		if strings.TrimSpace(cfg.Sink.S3.Bucket) == "" {
			return fmt.Errorf("sink.s3.bucket is required for the s3 sink")
		}
	default:
		return fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
	return cfg.Listener.Link.Transport.ValidateServer()
}
