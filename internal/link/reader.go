package link

import (
	"bufio"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/message"
)

var errReadDone = errors.New("link: peer sent close")

// countingStream counts bytes the decoder consumes, so sizes are per envelope rather than
// per socket read.
type countingStream struct {
	r *bufio.Reader
	n uint64
}

func (s *countingStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += uint64(n)
	return n, err
}

func (s *countingStream) ReadByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err == nil {
		s.n++
	}
	return b, err
}

// readLoop is the only goroutine that touches the decoder and lastRecvID.
func (c *Conn) readLoop() error {
	for {
		env, size, err := c.readEnvelope()
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if env.ID != c.lastRecvID+1 {
			return protocol.Sequencef("link: envelope id %d after %d", env.ID, c.lastRecvID)
		}
		c.lastRecvID = env.ID
		c.msgRecv.Add(1)
		c.bytesRecv.Add(uint64(size))
		observability.RecordMessage(c.cfg.BaseName, observability.DirReceived, env.Type.String(), size)
		c.log.Trace().Str("envelope", env.String()).Int("bytes", size).Msg("received")

		if err := c.dispatch(env); err != nil {
			if errors.Is(err, errReadDone) {
				return nil
			}
			return err
		}
	}
}

func (c *Conn) readEnvelope() (*message.Envelope, int, error) {
	if c.cfg.ReadTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	if _, err := c.in.r.Peek(1); err != nil {
		return nil, 0, protocol.IOError("link: read", err)
	}
	before := c.in.n
	e, err := c.dec.Decode()
	if err != nil {
		return nil, 0, err
	}
	env, err := message.FromEntity(e)
	if err != nil {
		return nil, 0, err
	}
	return env, int(c.in.n - before), nil
}

// dispatch runs cheap message types inline and hands requests and events to the pool.
func (c *Conn) dispatch(env *message.Envelope) error {
	switch env.Type {
	case message.EmptyAlive:
		return nil
	case message.Ping:
		return c.enqueueControl(message.NewPong(env))
	case message.Pong:
		c.recordPong(env)
		return nil
	case message.Response:
		if env.RequestID <= 0 {
			return protocol.Sequencef("link: response %d carries request id %d", env.ID, env.RequestID)
		}
		a, ok := c.pending.take(env.RequestID)
		if !ok {
			c.log.Warn().Int64("request_id", env.RequestID).Msg("response without pending request")
			return nil
		}
		a.Set(env)
		return nil
	case message.Request, message.Event:
		return c.runOnPool(env)
	case message.File:
		select {
		case c.files <- env:
			return nil
		case <-c.ctx.Done():
			return nil
		}
	case message.Close:
		// Chunks queued before the Close still reach their streams.
		select {
		case c.files <- env:
			return errReadDone
		case <-c.ctx.Done():
			return nil
		}
	}
	return protocol.Malformedf("link: unhandled message type %s", env.Type)
}

func (c *Conn) enqueueControl(env *message.Envelope) error {
	select {
	case c.out <- env:
	case <-c.ctx.Done():
	}
	return nil
}

func (c *Conn) recordPong(env *message.Envelope) {
	now := message.Timestamp()
	rtt := time.Duration(max(now-env.RequestTime, 0)) * time.Millisecond
	c.lastRTT.Store(int64(rtt))
	c.lastPong.Store(time.Now().UnixNano())
	observability.ObservePingRTT(c.cfg.BaseName, rtt)
}

// runOnPool blocks the reader only when every worker is busy.
func (c *Conn) runOnPool(env *message.Envelope) error {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return nil
	}
	c.work.Add(1)
	go func() {
		defer c.work.Done()
		defer c.sem.Release(1)
		if err := c.callHandler(env); err != nil {
			c.handlerFailed(err)
		}
	}()
	return nil
}

func (c *Conn) callHandler(env *message.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s %s panicked: %v\n%s", protocol.ErrHandlerFailure, env.Type, env, r, debug.Stack())
		}
	}()
	switch env.Type {
	case message.Request:
		if c.hooks.OnRequest == nil {
			return c.Respond(c.ctx, env, message.NewResultBody(message.ResultHandlerDoesNotExist))
		}
		err = c.hooks.OnRequest(c, env)
	case message.Event:
		if c.hooks.OnEvent == nil {
			c.log.Debug().Int32("handler", env.Handler).Msg("event without handler")
			return nil
		}
		err = c.hooks.OnEvent(c, env)
	}
	if err != nil && c.ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %w", protocol.ErrHandlerFailure, env, err)
	}
	return nil
}
