package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/codec"
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/filestream"
	"github.com/danmuck/binlink/internal/protocol/message"
	"github.com/danmuck/binlink/internal/protocol/schema"
)

var (
	ErrQueueFull = errors.New("link: outbound queue full")

	ErrLocalClose    = fmt.Errorf("%w: closed locally", protocol.ErrClosed)
	ErrCloseSent     = fmt.Errorf("%w: close sent", protocol.ErrClosed)
	ErrCloseReceived = fmt.Errorf("%w: close received", protocol.ErrClosed)
	ErrNotRequest    = fmt.Errorf("%w: link: SendRequest needs a Request envelope", protocol.ErrInvalidArgument)
)

// Hooks are the owner's callbacks. Request and event callbacks run on the bounded worker
// pool; OnBeginFile runs on the file loop; OnClosed runs once on the goroutine that closed.
type Hooks struct {
	// OnRequest answers a Request, normally through Respond. A nil hook answers every
	// request with ResultHandlerDoesNotExist.
	OnRequest func(c *Conn, req *message.Envelope) error
	OnEvent   func(c *Conn, ev *message.Envelope) error
	// OnBeginFile sees each new read stream before its first chunk is fed; install the
	// chunk callback here.
	OnBeginFile func(c *Conn, s *filestream.Stream) error
	OnClosed    func(c *Conn, reason error)
}

// Option customizes a Conn built by New.
type Option func(*Conn)

// WithID sets the connection id used in the unique name. Listeners assign them.
func WithID(id uint64) Option {
	return func(c *Conn) { c.id = id }
}

// WithRegistry resolves decoded descriptors to locally registered types.
func WithRegistry(reg *schema.Registry) Option {
	return func(c *Conn) { c.registry = reg }
}

// WithFactory builds decoded entities through f.
func WithFactory(f *entity.Factory) Option {
	return func(c *Conn) { c.factory = f }
}

// Conn is one running connection.
type Conn struct {
	id       uint64
	name     string
	cfg      Config
	hooks    Hooks
	registry *schema.Registry
	factory  *entity.Factory
	log      zerolog.Logger

	nc net.Conn
	bw *bufio.Writer
	in *countingStream

	enc *codec.Encoder
	dec *codec.Decoder

	out   chan *message.Envelope
	files chan *message.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	loops  errgroup.Group
	sem    *semaphore.Weighted
	work   sync.WaitGroup

	startOnce sync.Once
	started   atomic.Bool
	closeOnce sync.Once
	reasonMu  sync.Mutex
	reason    error

	pending *pendingTable

	streamsMu sync.Mutex
	streams   map[int32]*filestream.Stream

	nextFileID atomic.Int32
	lastSentID int64
	lastRecvID int64

	msgSent   atomic.Uint64
	msgRecv   atomic.Uint64
	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
	lastRTT   atomic.Int64
	lastPong  atomic.Int64
	startedAt time.Time
}

// New wraps nc. Loops do not run until Start.
func New(nc net.Conn, cfg Config, hooks Hooks, opts ...Option) *Conn {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:     cfg,
		hooks:   hooks,
		nc:      nc,
		bw:      bufio.NewWriterSize(nc, 32<<10),
		out:     make(chan *message.Envelope, cfg.QueueCapacity),
		files:   make(chan *message.Envelope, cfg.FileQueueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		pending: newPendingTable(),
		streams: make(map[int32]*filestream.Stream),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		reg, err := message.NewRegistry()
		if err == nil {
			c.registry = reg
		}
	}
	c.name = cfg.BaseName + "-" + strconv.FormatUint(c.id, 10)
	c.in = &countingStream{r: bufio.NewReaderSize(nc, 32<<10)}
	c.enc = codec.NewEncoder()
	c.dec = codec.NewDecoder(c.in, codec.Options{
		Registry: c.registry,
		Factory:  c.factory,
		Limits:   codec.Limits{MaxBinaryLen: cfg.MaxBinaryLen},
	})
	c.log = logs.Named("link").With().
		Str("conn", c.name).
		Str("remote", addrString(nc.RemoteAddr())).
		Logger()
	return c
}

// Start runs the writer, reader and file loops. Later calls do nothing.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		if c.ctx.Err() != nil {
			return
		}
		c.startedAt = time.Now()
		c.started.Store(true)
		observability.RecordConnOpened(c.cfg.BaseName)
		c.log.Debug().Msg("link started")
		c.loops.Go(func() error { return c.supervise(c.writeLoop) })
		c.loops.Go(func() error { return c.supervise(c.readLoop) })
		c.loops.Go(func() error { return c.supervise(c.fileLoop) })
	})
}

func (c *Conn) supervise(loop func() error) error {
	err := loop()
	if err != nil {
		c.CloseWithReason(err)
	}
	return err
}

// Wait blocks until all three loops have returned and in-flight callbacks finished.
func (c *Conn) Wait() {
	_ = c.loops.Wait()
	c.work.Wait()
}

// Close closes the connection locally. It is safe to call more than once.
func (c *Conn) Close() error {
	c.CloseWithReason(ErrLocalClose)
	return nil
}

// CloseWithReason stops the loops, closes the socket, fails every pending request with
// ErrClosed and fires OnClosed. Only the first reason is kept.
func (c *Conn) CloseWithReason(reason error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		if reason == nil {
			reason = ErrLocalClose
		}
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()

		c.cancel()
		_ = c.nc.Close()
		c.pending.failAll(c.closedErr())

		kind := protocol.Kind(reason)
		ev := c.log.Warn()
		if kind == protocol.KindClosed {
			ev = c.log.Info()
		}
		ev.Str("kind", string(kind)).Err(reason).Str("stats", c.String()).Msg("link closed")
		if c.started.Load() {
			observability.RecordConnClosed(c.cfg.BaseName, string(kind))
		}
	})
	if first && c.hooks.OnClosed != nil {
		c.hooks.OnClosed(c, reason)
	}
}

// Shutdown asks the peer to close by sending a Close envelope, then waits for the link to
// stop or ctx to end.
func (c *Conn) Shutdown(ctx context.Context) error {
	if err := c.Enqueue(ctx, message.New(message.Close)); err != nil {
		if errors.Is(err, protocol.ErrClosed) {
			return nil
		}
		return err
	}
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		c.CloseWithReason(ErrLocalClose)
		return ctx.Err()
	}
}

// Done is closed when the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Reason returns why the connection closed, or nil while it runs.
func (c *Conn) Reason() error {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

func (c *Conn) closedErr() error {
	if reason := c.Reason(); reason != nil && !errors.Is(reason, protocol.ErrClosed) {
		return fmt.Errorf("%w: %s: %w", protocol.ErrClosed, c.name, reason)
	}
	return fmt.Errorf("%w: %s", protocol.ErrClosed, c.name)
}

// Enqueue queues env for the writer, blocking while the queue is full.
func (c *Conn) Enqueue(ctx context.Context, env *message.Envelope) error {
	if err := c.checkEnqueue(env); err != nil {
		return err
	}
	select {
	case c.out <- env:
		return nil
	case <-c.ctx.Done():
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue queues env without blocking. A full queue returns ErrQueueFull and the
// envelope is not queued. It does not wait for room: callers that must not drop an
// envelope use Enqueue, which blocks until the writer frees a slot or the link stops.
func (c *Conn) TryEnqueue(env *message.Envelope) error {
	if err := c.checkEnqueue(env); err != nil {
		return err
	}
	select {
	case c.out <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Conn) checkEnqueue(env *message.Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: link: nil envelope", protocol.ErrInvalidArgument)
	}
	if env.Async != nil && env.Type != message.Request && env.Type != message.File {
		return fmt.Errorf("%w: %s", protocol.ErrAsyncResponseMisuse, env.Type)
	}
	if c.ctx.Err() != nil {
		return c.closedErr()
	}
	return nil
}

// Respond answers req with body.
func (c *Conn) Respond(ctx context.Context, req *message.Envelope, body *entity.Entity) error {
	return c.Enqueue(ctx, message.NewResponse(req, body))
}

// Ping sends a Ping; the matching Pong updates LastRTT.
func (c *Conn) Ping(ctx context.Context) error {
	return c.Enqueue(ctx, message.New(message.Ping))
}

// SendRequest sends req and waits for the Response carrying its id. A zero timeout uses
// Config.RequestTimeout. On timeout the pending entry is dropped.
func (c *Conn) SendRequest(ctx context.Context, req *message.Envelope, timeout time.Duration) (resp *message.Envelope, err error) {
	if req == nil || req.Type != message.Request {
		return nil, ErrNotRequest
	}
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "link.SendRequest",
		attribute.String("link.conn", c.name),
		attribute.Int("link.handler", int(req.Handler)),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(protocol.Kind(err))
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
		}
		observability.ObserveRequest(c.cfg.BaseName, outcome, time.Since(start))
		observability.EndSpan(span, err)
	}()

	async := message.NewAsyncResponse()
	req.Async = async
	if err := c.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	select {
	case <-async.Done():
		return async.Wait(ctx)
	case <-c.Done():
		return nil, c.closedErr()
	case <-ctx.Done():
		async.Fail(ctx.Err())
		c.pending.drop(async)
		return nil, ctx.Err()
	}
}

// CreateWriteFileStream opens a write-only file stream with a fresh FileId.
func (c *Conn) CreateWriteFileStream(fileContext, name string) (*filestream.Stream, error) {
	if c.ctx.Err() != nil {
		return nil, c.closedErr()
	}
	return filestream.NewWriter(c, c.nextFileID.Add(1), fileContext, name), nil
}

func (c *Conn) ID() uint64 {
	return c.id
}

// Name is BaseName-id, unique within one listener.
func (c *Conn) Name() string {
	return c.name
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

func (c *Conn) StartedAt() time.Time {
	return c.startedAt
}

// OpenFiles reports read streams that have not seen their final chunk.
func (c *Conn) OpenFiles() int {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return len(c.streams)
}

// PendingRequests reports requests written and not yet answered.
func (c *Conn) PendingRequests() int {
	return c.pending.len()
}

func (c *Conn) handlerFailed(err error) {
	observability.RecordHandlerFailure(c.cfg.BaseName, string(c.cfg.HandlerPolicy))
	if c.cfg.HandlerPolicy == HandlerPolicyLog {
		c.log.Warn().Err(err).Msg("handler failed")
		return
	}
	c.CloseWithReason(err)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
