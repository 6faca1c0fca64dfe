package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"

	"github.com/gorilla/websocket"

	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/transport"
)

// Dial connects to addr over TCP, or TLS when cfg.Transport enables it, and returns a
// started Conn. A TLS dial also consumes the listener greeting.
func Dial(ctx context.Context, addr string, cfg Config, hooks Hooks, opts ...Option) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Transport.ValidateClient(); err != nil {
		return nil, err
	}
	nc, err := dialNet(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	c := New(nc, cfg, hooks, opts...)
	c.Start()
	return c, nil
}

func dialNet(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: dial %s: %w", addr, err)
	}
	if !cfg.Transport.TLS.Enabled {
		return raw, nil
	}

	tlsCfg, err := transport.ClientTLSConfig(cfg.Transport.TLS, addr)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, tlsCfg)
	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("link: tls handshake %s: %w", addr, err)
	}
	if err := transport.ReadGreeting(conn, cfg.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialWebSocket connects to a ws:// or wss:// endpoint and runs the link over binary
// messages.
func DialWebSocket(ctx context.Context, url string, cfg Config, hooks Hooks, opts ...Option) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.Transport.TLS.Enabled {
		tlsCfg, err := transport.ClientTLSConfig(cfg.Transport.TLS, hostPort(url))
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("link: websocket dial %s: %w", url, err)
	}
	c := New(transport.NewWebSocketConn(ws), cfg, hooks, opts...)
	c.Start()
	return c, nil
}

// DialRetry keeps dialing with cfg.Backoff until it connects, ctx ends or maxAttempts
// dials failed. maxAttempts <= 0 retries forever.
func DialRetry(ctx context.Context, addr string, maxAttempts int, cfg Config, hooks Hooks, opts ...Option) (*Conn, error) {
	cfg = cfg.WithDefaults()
	backoff := NewBackoff(cfg.Backoff)
	for attempt := 1; ; attempt++ {
		c, err := Dial(ctx, addr, cfg, hooks, opts...)
		if err == nil {
			return c, nil
		}
		logs.Warnf("link.DialRetry attempt=%d addr=%q err=%v", attempt, addr, err)
		if maxAttempts > 0 && attempt >= maxAttempts {
			return nil, err
		}
		if err := backoff.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// hostPort extracts host:port from a websocket url for the TLS server name.
func hostPort(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), "443")
}
