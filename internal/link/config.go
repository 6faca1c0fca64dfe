package link

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/binlink/internal/transport"
)

// HandlerPolicy decides what a failing request, event or file callback does to its link.
type HandlerPolicy string

const (
	// HandlerPolicyClose tears the connection down on any callback error or panic.
	HandlerPolicyClose HandlerPolicy = "close"
	// HandlerPolicyLog logs and counts the failure and keeps the connection.
	HandlerPolicyLog HandlerPolicy = "log"
)

func ParseHandlerPolicy(raw string) (HandlerPolicy, error) {
	switch p := HandlerPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return HandlerPolicyClose, nil
	case HandlerPolicyClose, HandlerPolicyLog:
		return p, nil
	default:
		return "", fmt.Errorf("link: unknown handler policy %q", raw)
	}
}

// BackoffConfig defines redial backoff for callers that reconnect.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection engine behavior. Zero values are filled by WithDefaults.
type Config struct {
	// BaseName prefixes the per-connection unique name and labels metrics.
	BaseName string
	// AlivePeriod is the idle time after which the writer sends an EmptyAlive.
	// A negative value disables keepalives.
	AlivePeriod      time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ConnectTimeout   time.Duration
	// QueueCapacity bounds the outbound queue; producers block when it is full.
	QueueCapacity int
	// FileQueueCapacity bounds received File envelopes waiting for the file loop.
	FileQueueCapacity int
	// Workers bounds concurrent request and event callbacks.
	Workers        int
	HandlerPolicy  HandlerPolicy
	RequestTimeout time.Duration
	// MaxBinaryLen caps a single decoded byte array.
	MaxBinaryLen uint64
	Transport    transport.Policy
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		BaseName:          "link",
		AlivePeriod:       5 * time.Second,
		ReadTimeout:       11 * time.Second,
		WriteTimeout:      15 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		ConnectTimeout:    5 * time.Second,
		QueueCapacity:     64,
		FileQueueCapacity: 16,
		Workers:           8,
		HandlerPolicy:     HandlerPolicyClose,
		RequestTimeout:    30 * time.Second,
		MaxBinaryLen:      64 << 20,
		Transport:         transport.Policy{SecurityMode: transport.SecurityModeDevelopment},
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults returns c with every zero field replaced by its default.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.BaseName) == "" {
		c.BaseName = def.BaseName
	}
	if c.AlivePeriod == 0 {
		c.AlivePeriod = def.AlivePeriod
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.FileQueueCapacity <= 0 {
		c.FileQueueCapacity = def.FileQueueCapacity
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.HandlerPolicy == "" {
		c.HandlerPolicy = def.HandlerPolicy
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxBinaryLen == 0 {
		c.MaxBinaryLen = def.MaxBinaryLen
	}
	if c.Transport.SecurityMode == "" {
		c.Transport.SecurityMode = def.Transport.SecurityMode
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Validate checks values WithDefaults cannot repair.
func (c Config) Validate() error {
	if _, err := ParseHandlerPolicy(string(c.HandlerPolicy)); err != nil {
		return err
	}
	if c.ReadTimeout > 0 && c.AlivePeriod > 0 && c.ReadTimeout <= c.AlivePeriod {
		return fmt.Errorf("link: read timeout %s must exceed alive period %s", c.ReadTimeout, c.AlivePeriod)
	}
	return nil
}
