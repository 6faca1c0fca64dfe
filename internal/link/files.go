package link

import (
	"errors"
	"fmt"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/filestream"
	"github.com/danmuck/binlink/internal/protocol/message"
)

// fileLoop feeds received chunks to their read streams in arrival order. A Close from the
// peer travels the same queue and ends the link once the chunks before it are done.
func (c *Conn) fileLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case env := <-c.files:
			if env.Type == message.Close {
				return ErrCloseReceived
			}
			err := c.processFile(env)
			if err == nil {
				continue
			}
			if errors.Is(err, protocol.ErrHandlerFailure) {
				c.handlerFailed(err)
				continue
			}
			return err
		}
	}
}

func (c *Conn) processFile(env *message.Envelope) error {
	chunk, err := env.FileChunk()
	if err != nil {
		return err
	}
	observability.RecordFileChunk(c.cfg.BaseName, observability.DirReceived)

	c.streamsMu.Lock()
	s, open := c.streams[chunk.FileID]
	switch {
	case chunk.First() && open:
		c.streamsMu.Unlock()
		return protocol.Sequencef("link: file %d opened twice", chunk.FileID)
	case chunk.First():
		s, err = filestream.NewReader(chunk)
		if err != nil {
			c.streamsMu.Unlock()
			return err
		}
		c.streams[chunk.FileID] = s
	case !open:
		c.streamsMu.Unlock()
		return protocol.Sequencef("link: chunk %d for unknown file %d", chunk.ChunkID, chunk.FileID)
	}
	c.streamsMu.Unlock()

	if chunk.First() {
		c.log.Debug().Int32("file_id", chunk.FileID).Str("file", chunk.FileName).Msg("file begins")
		if err := c.beginFile(s); err != nil {
			c.handlerFailed(err)
			if c.ctx.Err() != nil {
				return nil
			}
		}
	}

	err = s.ProcessChunk(chunk)
	if chunk.Final || (err != nil && !errors.Is(err, protocol.ErrHandlerFailure)) {
		c.streamsMu.Lock()
		delete(c.streams, chunk.FileID)
		c.streamsMu.Unlock()
	}
	if err == nil && chunk.Final {
		c.log.Debug().Int32("file_id", chunk.FileID).Int64("bytes", s.ByteCount()).Msg("file complete")
	}
	return err
}

func (c *Conn) beginFile(s *filestream.Stream) (err error) {
	if c.hooks.OnBeginFile == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: begin file %d panicked: %v", protocol.ErrHandlerFailure, s.FileID(), r)
		}
	}()
	if err := c.hooks.OnBeginFile(c, s); err != nil {
		return fmt.Errorf("%w: begin file %d: %w", protocol.ErrHandlerFailure, s.FileID(), err)
	}
	return nil
}
