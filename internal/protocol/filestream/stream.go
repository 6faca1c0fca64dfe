// Package filestream implements both ends of the chunked file sub-protocol.
//
// A write stream turns Write calls into File envelopes and waits for each chunk to reach
// the wire before returning. A read stream is created by the link on a file's first chunk
// and forwards every chunk, in order, to the callback its owner installs.
package filestream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/message"
)

var (
	ErrReadOnly   = fmt.Errorf("%w: filestream: write on a read-only stream", protocol.ErrInvalidArgument)
	ErrWriteOnly  = fmt.Errorf("%w: filestream: chunk fed to a write-only stream", protocol.ErrInvalidArgument)
	ErrFinalized  = fmt.Errorf("%w: filestream: stream already finalized", protocol.ErrInvalidArgument)
	ErrEmptyChunk = fmt.Errorf("%w: filestream: empty chunk", protocol.ErrInvalidArgument)
	// ErrBroken is returned by every Write after one whose chunk was queued but never
	// confirmed. That chunk may still reach the wire, so the stream cannot continue.
	ErrBroken = errors.New("filestream: stream broken by an unconfirmed chunk")
)

type Direction uint8

const (
	WriteOnly Direction = iota + 1
	ReadOnly
)

func (d Direction) String() string {
	switch d {
	case WriteOnly:
		return "write-only"
	case ReadOnly:
		return "read-only"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Sender is the part of a link a write stream uses.
type Sender interface {
	// Enqueue blocks while the outbound queue is full.
	Enqueue(ctx context.Context, env *message.Envelope) error
	// Done is closed when the link stops.
	Done() <-chan struct{}
}

// ChunkFunc receives each chunk of a read stream. An error is a handler failure.
type ChunkFunc func(data []byte, final bool) error

// Stream is one logical file on one link.
type Stream struct {
	mu        sync.Mutex
	dir       Direction
	fileID    int32
	context   string
	name      string
	lastChunk int32
	bytes     int64
	finalized bool
	broken    error

	sender  Sender
	onChunk ChunkFunc
}

// NewWriter opens a write-only stream. fileID must be unique among the link's open files.
func NewWriter(sender Sender, fileID int32, fileContext, name string) *Stream {
	return &Stream{dir: WriteOnly, fileID: fileID, context: fileContext, name: name, sender: sender}
}

// NewReader opens a read-only stream from the file's first chunk. The chunk itself is not
// processed; the link feeds it after the begin-file callback ran.
func NewReader(first message.FileChunk) (*Stream, error) {
	if !first.First() {
		return nil, protocol.Sequencef("filestream: file %d opened by chunk %d", first.FileID, first.ChunkID)
	}
	return &Stream{dir: ReadOnly, fileID: first.FileID, context: first.Context, name: first.FileName}, nil
}

func (s *Stream) FileID() int32 {
	return s.fileID
}

func (s *Stream) Context() string {
	return s.context
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) Direction() Direction {
	return s.dir
}

func (s *Stream) LastChunkID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChunk
}

func (s *Stream) ByteCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Stream) IsFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// OnChunk installs the receive callback. Chunks processed without one are counted and dropped.
func (s *Stream) OnChunk(fn ChunkFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

// ProcessChunk feeds one received chunk. Chunk ids must follow each other from 1.
func (s *Stream) ProcessChunk(c message.FileChunk) error {
	s.mu.Lock()
	if s.dir != ReadOnly {
		s.mu.Unlock()
		return ErrWriteOnly
	}
	if s.finalized {
		s.mu.Unlock()
		return protocol.Sequencef("filestream: file %d: chunk %d after final chunk", s.fileID, c.ChunkID)
	}
	if c.FileID != s.fileID {
		s.mu.Unlock()
		return protocol.Sequencef("filestream: chunk for file %d fed to file %d", c.FileID, s.fileID)
	}
	if c.ChunkID != s.lastChunk+1 {
		s.mu.Unlock()
		return protocol.Sequencef("filestream: file %d: chunk %d after %d", s.fileID, c.ChunkID, s.lastChunk)
	}
	s.lastChunk = c.ChunkID
	s.bytes += int64(len(c.Data))
	s.finalized = c.Final
	fn := s.onChunk
	s.mu.Unlock()

	if fn == nil {
		return nil
	}
	if err := fn(c.Data, c.Final); err != nil {
		return fmt.Errorf("%w: filestream: file %d chunk %d: %w", protocol.ErrHandlerFailure, s.fileID, c.ChunkID, err)
	}
	return nil
}

// Write sends data as the next chunk and returns once it has been written to the link.
// Writes on one stream must not run concurrently.
//
// A queued chunk counts as sent: the chunk id and byte count advance as soon as the link
// accepts it. If the wait for the write then fails, the stream is broken and later writes
// return ErrBroken.
func (s *Stream) Write(ctx context.Context, data []byte, final bool) (err error) {
	s.mu.Lock()
	switch {
	case s.dir != WriteOnly:
		s.mu.Unlock()
		return ErrReadOnly
	case s.broken != nil:
		err := s.broken
		s.mu.Unlock()
		return err
	case s.finalized:
		s.mu.Unlock()
		return ErrFinalized
	case len(data) == 0:
		s.mu.Unlock()
		return ErrEmptyChunk
	}
	chunk := message.FileChunk{
		FileID:   s.fileID,
		Context:  s.context,
		FileName: s.name,
		ChunkID:  s.lastChunk + 1,
		Data:     data,
		Final:    final,
	}
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "filestream.Write",
		attribute.Int("file.id", int(chunk.FileID)),
		attribute.Int("file.chunk_id", int(chunk.ChunkID)),
		attribute.Int("file.chunk_bytes", len(data)),
		attribute.Bool("file.final", final),
	)
	defer func() { observability.EndSpan(span, err) }()

	env := message.NewFile(chunk)
	if err := s.sender.Enqueue(ctx, env); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastChunk = chunk.ChunkID
	s.bytes += int64(len(data))
	s.finalized = final
	s.mu.Unlock()

	var waitErr error
	select {
	case <-env.Async.Done():
		_, waitErr = env.Async.Wait(ctx)
	case <-s.sender.Done():
		waitErr = fmt.Errorf("%w: filestream: file %d chunk %d not written", protocol.ErrClosed, chunk.FileID, chunk.ChunkID)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		s.mu.Lock()
		s.broken = fmt.Errorf("%w: file %d chunk %d: %w", ErrBroken, chunk.FileID, chunk.ChunkID, waitErr)
		s.mu.Unlock()
		return waitErr
	}
	return nil
}

// Report is a snapshot of a stream's counters.
type Report struct {
	FileID      int32
	Name        string
	Direction   Direction
	LastChunkID int32
	ByteCount   int64
	Finalized   bool
}

func (s *Stream) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{
		FileID:      s.fileID,
		Name:        s.name,
		Direction:   s.dir,
		LastChunkID: s.lastChunk,
		ByteCount:   s.bytes,
		Finalized:   s.finalized,
	}
}

// IsStreamError reports whether err is a local misuse of a stream rather than a link failure.
func IsStreamError(err error) bool {
	return errors.Is(err, ErrReadOnly) || errors.Is(err, ErrWriteOnly) ||
		errors.Is(err, ErrFinalized) || errors.Is(err, ErrEmptyChunk) || errors.Is(err, ErrBroken)
}
