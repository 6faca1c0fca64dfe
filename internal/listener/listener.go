package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/danmuck/binlink/internal/link"
	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/transport"
)

var (
	ErrAddressRequired = errors.New("listener: listen address required")
	ErrStopped         = errors.New("listener: stopped")
	ErrAlreadyStarted  = errors.New("listener: already started")
)

type Config struct {
	Addr string
	// Link is applied to every accepted connection. Link.BaseName names them.
	Link link.Config
	// RestartDelay separates an accept loop failure from the rebind attempt.
	RestartDelay time.Duration
}

func DefaultConfig() Config {
	cfg := Config{
		Addr:         ":7400",
		Link:         link.DefaultConfig(),
		RestartDelay: 500 * time.Millisecond,
	}
	cfg.Link.BaseName = "linkd"
	return cfg
}

// Listener owns one listen socket and every connection accepted on it.
type Listener struct {
	cfg    Config
	hooks  link.Hooks
	opts   []link.Option
	tlsCfg *tls.Config
	log    zerolog.Logger

	mu      sync.Mutex
	ln      net.Listener
	conns   map[uint64]*link.Conn
	started bool

	nextID   atomic.Uint64
	restarts atomic.Uint64
	stopped  atomic.Bool
	stopCh   chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New validates cfg and prepares the TLS config. hooks and opts are handed to every Conn;
// hooks.OnClosed runs after the connection left the registry.
func New(cfg Config, hooks link.Hooks, opts ...link.Option) (*Listener, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultConfig().RestartDelay
	}
	cfg.Link = cfg.Link.WithDefaults()
	if err := cfg.Link.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Link.Transport.ValidateServer(); err != nil {
		return nil, err
	}
	l := &Listener{
		cfg:      cfg,
		hooks:    hooks,
		opts:     opts,
		conns:    make(map[uint64]*link.Conn),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		log:      logs.Named("listener").With().Str("addr", cfg.Addr).Logger(),
	}
	if cfg.Link.Transport.TLS.Enabled {
		tlsCfg, err := transport.ServerTLSConfig(cfg.Link.Transport.TLS)
		if err != nil {
			return nil, fmt.Errorf("listener: tls: %w", err)
		}
		l.tlsCfg = tlsCfg
	}
	return l, nil
}

// Start binds the configured address and accepts in the background.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listener: bind %s: %w", l.cfg.Addr, err)
	}
	return l.Serve(ln)
}

// Serve accepts on an already bound ln in the background. A failed accept loop rebinds
// ln's address until Stop.
func (l *Listener) Serve(ln net.Listener) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		_ = ln.Close()
		return ErrAlreadyStarted
	}
	if l.stopped.Load() {
		l.mu.Unlock()
		_ = ln.Close()
		return ErrStopped
	}
	l.started = true
	l.ln = ln
	l.mu.Unlock()

	logs.Infof("listener.Serve listening addr=%q tls=%t", ln.Addr().String(), l.tlsCfg != nil)
	go l.run(ln)
	return nil
}

// Addr is the bound address, nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) run(ln net.Listener) {
	defer close(l.loopDone)
	addr := ln.Addr().String()
	for {
		err := l.acceptLoop(ln)
		if l.stopped.Load() {
			return
		}
		l.log.Warn().Err(err).Msg("accept loop failed, restarting")
		_ = ln.Close()
		for {
			if !l.sleep(l.cfg.RestartDelay) {
				return
			}
			next, err := net.Listen("tcp", addr)
			if err == nil {
				ln = next
				break
			}
			l.log.Warn().Err(err).Msg("rebind failed")
		}
		l.mu.Lock()
		if l.stopped.Load() {
			l.mu.Unlock()
			_ = ln.Close()
			return
		}
		l.ln = ln
		l.mu.Unlock()
		l.restarts.Add(1)
		logs.Infof("listener.run rebound addr=%q restarts=%d", addr, l.restarts.Load())
	}
}

func (l *Listener) acceptLoop(ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return err
		}
		l.inflight.Add(1)
		go func() {
			defer l.inflight.Done()
			l.handle(raw)
		}()
	}
}

func (l *Listener) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// handle finishes the handshake off the accept goroutine so a slow peer cannot stall it.
func (l *Listener) handle(raw net.Conn) {
	nc := raw
	if l.tlsCfg != nil {
		conn := tls.Server(raw, l.tlsCfg)
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Link.HandshakeTimeout)
		err := conn.HandshakeContext(ctx)
		cancel()
		if err != nil {
			l.log.Warn().Err(err).Str("remote", raw.RemoteAddr().String()).Msg("tls handshake failed")
			_ = raw.Close()
			return
		}
		if err := transport.WriteGreeting(conn, l.cfg.Link.HandshakeTimeout); err != nil {
			l.log.Warn().Err(err).Str("remote", raw.RemoteAddr().String()).Msg("greeting failed")
			_ = conn.Close()
			return
		}
		nc = conn
	}
	if _, err := l.ServeConn(nc); err != nil {
		_ = nc.Close()
	}
}

// ServeConn registers and starts a link on an already established connection, such as an
// upgraded WebSocket.
func (l *Listener) ServeConn(nc net.Conn) (*link.Conn, error) {
	id := l.nextID.Add(1)
	hooks := l.hooks
	userClosed := hooks.OnClosed
	hooks.OnClosed = func(c *link.Conn, reason error) {
		l.deregister(c.ID())
		if userClosed != nil {
			userClosed(c, reason)
		}
	}
	opts := append([]link.Option{link.WithID(id)}, l.opts...)

	l.mu.Lock()
	if l.stopped.Load() {
		l.mu.Unlock()
		return nil, ErrStopped
	}
	c := link.New(nc, l.cfg.Link, hooks, opts...)
	l.conns[id] = c
	l.mu.Unlock()

	logs.Debugf("listener.ServeConn accepted conn=%q remote=%q", c.Name(), nc.RemoteAddr().String())
	c.Start()
	return c, nil
}

func (l *Listener) deregister(id uint64) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

// Conns returns the live connections ordered by id.
func (l *Listener) Conns() []*link.Conn {
	l.mu.Lock()
	out := make([]*link.Conn, 0, len(l.conns))
	for _, c := range l.conns {
		out = append(out, c)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Conn looks up a live connection by id.
func (l *Listener) Conn(id uint64) (*link.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[id]
	return c, ok
}

func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Restarts counts accept loop restarts.
func (l *Listener) Restarts() uint64 {
	return l.restarts.Load()
}

// Stop closes the listen socket and every live connection, then waits for them to finish.
// Repeated calls return nil.
func (l *Listener) Stop() error {
	if l.stopped.Swap(true) {
		return nil
	}
	close(l.stopCh)

	var result *multierror.Error
	l.mu.Lock()
	ln, started := l.ln, l.started
	conns := make([]*link.Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("listener: close %s: %w", ln.Addr(), err))
		}
	}
	if started {
		<-l.loopDone
	}
	l.inflight.Wait()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("listener: close %s: %w", c.Name(), err))
		}
	}
	for _, c := range conns {
		c.Wait()
	}
	logs.Infof("listener.Stop closed addr=%q conns=%d", l.cfg.Addr, len(conns))
	return result.ErrorOrNil()
}
