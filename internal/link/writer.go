package link

import (
	"time"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/message"
)

// writeLoop is the only goroutine that touches the encoder, the buffered writer and
// lastSentID.
func (c *Conn) writeLoop() error {
	var alive <-chan time.Time
	var timer *time.Timer
	if c.cfg.AlivePeriod > 0 {
		if err := c.writeNow(message.New(message.EmptyAlive)); err != nil {
			return err
		}
		timer = time.NewTimer(c.cfg.AlivePeriod)
		defer timer.Stop()
		alive = timer.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case env := <-c.out:
			done, err := c.writeQueued(env)
			if err != nil || done {
				return err
			}
		case <-alive:
			if err := c.writeNow(message.New(message.EmptyAlive)); err != nil {
				return err
			}
		}
		if timer != nil {
			timer.Reset(c.cfg.AlivePeriod)
		}
	}
}

// writeQueued writes one dequeued envelope and runs its post-send effects. It flushes
// when the queue is drained and always after File and Close envelopes. done reports that a
// Close went out and the loop should stop.
func (c *Conn) writeQueued(env *message.Envelope) (done bool, err error) {
	written, err := c.write(env)
	if err != nil || !written {
		return false, err
	}
	switch env.Type {
	case message.File:
		if err := c.flush(); err != nil {
			return false, err
		}
		observability.RecordFileChunk(c.cfg.BaseName, observability.DirSent)
		env.Async.Set(env)
		return false, nil
	case message.Close:
		if err := c.flush(); err != nil {
			return false, err
		}
		c.CloseWithReason(ErrCloseSent)
		return true, nil
	}
	if len(c.out) == 0 {
		return false, c.flush()
	}
	return false, nil
}

func (c *Conn) writeNow(env *message.Envelope) error {
	if _, err := c.write(env); err != nil {
		return err
	}
	return c.flush()
}

// write assigns the next id and encodes env into the buffered writer. An envelope that
// cannot be encoded is rejected without consuming an id; written is false then.
func (c *Conn) write(env *message.Envelope) (written bool, err error) {
	id := c.lastSentID + 1
	env.ID = id
	registered := false
	if env.Type == message.Request && env.Async != nil {
		registered = c.pending.add(id, env.Async)
		if !registered {
			// the caller gave up while the request sat in the queue
			return false, nil
		}
	}

	data, err := c.enc.Encode(env.ToEntity())
	if err != nil {
		if registered {
			c.pending.drop(env.Async)
		}
		if env.Async != nil {
			env.Async.Fail(err)
		}
		c.log.Error().Err(err).Str("envelope", env.String()).Msg("envelope not encodable, dropped")
		return false, nil
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.bw.Write(data); err != nil {
		return false, protocol.IOError("link: write", err)
	}
	c.lastSentID = id
	c.msgSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	observability.RecordMessage(c.cfg.BaseName, observability.DirSent, env.Type.String(), len(data))
	c.log.Trace().Str("envelope", env.String()).Int("bytes", len(data)).Msg("sent")
	return true, nil
}

func (c *Conn) flush() error {
	if c.bw.Buffered() == 0 {
		return nil
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.bw.Flush(); err != nil {
		return protocol.IOError("link: flush", err)
	}
	return nil
}
