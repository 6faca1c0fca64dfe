// Package config loads linkd.toml and linkctl.toml.
//
// Files are overlays: a key absent from the file keeps its default. Durations are strings
// in time.ParseDuration form.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/transport"
)

// LinkFile is the [link] table shared by both files.
type LinkFile struct {
	BaseName          string              `toml:"base_name" comment:"prefix of connection names and the metrics node label"`
	AlivePeriod       string              `toml:"alive_period" comment:"idle time before a keepalive is sent; negative disables"`
	ReadTimeout       string              `toml:"read_timeout" comment:"must exceed alive_period"`
	WriteTimeout      string              `toml:"write_timeout"`
	HandshakeTimeout  string              `toml:"handshake_timeout"`
	ConnectTimeout    string              `toml:"connect_timeout"`
	RequestTimeout    string              `toml:"request_timeout"`
	QueueCapacity     int                 `toml:"queue_capacity"`
	FileQueueCapacity int                 `toml:"file_queue_capacity"`
	Workers           int                 `toml:"workers" comment:"concurrent request and event handlers per connection"`
	HandlerPolicy     string              `toml:"handler_policy" comment:"close or log"`
	MaxBinaryLen      uint64              `toml:"max_binary_len"`
	SecurityMode      string              `toml:"security_mode" comment:"development or production"`
	TLS               transport.TLSConfig `toml:"tls"`
	Backoff           BackoffFile         `toml:"backoff"`
}

type BackoffFile struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

func linkFileFrom(cfg link.Config) LinkFile {
	return LinkFile{
		BaseName:          cfg.BaseName,
		AlivePeriod:       cfg.AlivePeriod.String(),
		ReadTimeout:       cfg.ReadTimeout.String(),
		WriteTimeout:      cfg.WriteTimeout.String(),
		HandshakeTimeout:  cfg.HandshakeTimeout.String(),
		ConnectTimeout:    cfg.ConnectTimeout.String(),
		RequestTimeout:    cfg.RequestTimeout.String(),
		QueueCapacity:     cfg.QueueCapacity,
		FileQueueCapacity: cfg.FileQueueCapacity,
		Workers:           cfg.Workers,
		HandlerPolicy:     string(cfg.HandlerPolicy),
		MaxBinaryLen:      cfg.MaxBinaryLen,
		SecurityMode:      string(cfg.Transport.SecurityMode),
		TLS:               cfg.Transport.TLS,
		Backoff: BackoffFile{
			Initial:    cfg.Backoff.InitialDelay.String(),
			Multiplier: cfg.Backoff.Multiplier,
			Max:        cfg.Backoff.MaxDelay.String(),
			Jitter:     cfg.Backoff.Jitter,
		},
	}
}

// overlay applies the keys defined under prefix.
type overlay struct {
	meta   toml.MetaData
	prefix []string
	err    error
}

func (o *overlay) defined(keys ...string) bool {
	return o.meta.IsDefined(slices.Concat(o.prefix, keys)...)
}

func (o *overlay) str(dst *string, raw string, keys ...string) {
	if o.defined(keys...) {
		*dst = strings.TrimSpace(raw)
	}
}

func (o *overlay) duration(dst *time.Duration, raw string, keys ...string) {
	if o.err != nil || !o.defined(keys...) {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		o.err = fmt.Errorf("%s: %w", strings.Join(slices.Concat(o.prefix, keys), "."), err)
		return
	}
	*dst = d
}

func setIf[T any](o *overlay, dst *T, v T, keys ...string) {
	if o.defined(keys...) {
		*dst = v
	}
}

func applyLink(meta toml.MetaData, raw LinkFile, cfg *link.Config) error {
	o := &overlay{meta: meta, prefix: []string{"link"}}
	o.str(&cfg.BaseName, raw.BaseName, "base_name")
	o.duration(&cfg.AlivePeriod, raw.AlivePeriod, "alive_period")
	o.duration(&cfg.ReadTimeout, raw.ReadTimeout, "read_timeout")
	o.duration(&cfg.WriteTimeout, raw.WriteTimeout, "write_timeout")
	o.duration(&cfg.HandshakeTimeout, raw.HandshakeTimeout, "handshake_timeout")
	o.duration(&cfg.ConnectTimeout, raw.ConnectTimeout, "connect_timeout")
	o.duration(&cfg.RequestTimeout, raw.RequestTimeout, "request_timeout")
	setIf(o, &cfg.QueueCapacity, raw.QueueCapacity, "queue_capacity")
	setIf(o, &cfg.FileQueueCapacity, raw.FileQueueCapacity, "file_queue_capacity")
	setIf(o, &cfg.Workers, raw.Workers, "workers")
	setIf(o, &cfg.MaxBinaryLen, raw.MaxBinaryLen, "max_binary_len")
	if o.defined("handler_policy") {
		policy, err := link.ParseHandlerPolicy(raw.HandlerPolicy)
		if err != nil {
			return err
		}
		cfg.HandlerPolicy = policy
	}
	if o.defined("security_mode") {
		cfg.Transport.SecurityMode = transport.NormalizeSecurityMode(transport.SecurityMode(raw.SecurityMode))
	}

	tls := &cfg.Transport.TLS
	setIf(o, &tls.Enabled, raw.TLS.Enabled, "tls", "enabled")
	o.str(&tls.CertFile, raw.TLS.CertFile, "tls", "cert_file")
	o.str(&tls.KeyFile, raw.TLS.KeyFile, "tls", "key_file")
	o.str(&tls.CAFile, raw.TLS.CAFile, "tls", "ca_file")
	o.str(&tls.ServerName, raw.TLS.ServerName, "tls", "server_name")
	setIf(o, &tls.RequestClientCert, raw.TLS.RequestClientCert, "tls", "request_client_cert")
	setIf(o, &tls.InsecureSkipVerify, raw.TLS.InsecureSkipVerify, "tls", "insecure_skip_verify")

	o.duration(&cfg.Backoff.InitialDelay, raw.Backoff.Initial, "backoff", "initial")
	setIf(o, &cfg.Backoff.Multiplier, raw.Backoff.Multiplier, "backoff", "multiplier")
	o.duration(&cfg.Backoff.MaxDelay, raw.Backoff.Max, "backoff", "max")
	setIf(o, &cfg.Backoff.Jitter, raw.Backoff.Jitter, "backoff", "jitter")
	if o.err != nil {
		return o.err
	}

	*cfg = cfg.WithDefaults()
	return cfg.Validate()
}
