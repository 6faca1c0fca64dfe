// Package filesink stores files received over a link.
//
// A Sink opens one Writer per incoming file stream. Chunks arrive in order on the link's
// file loop; the final chunk commits the file and anything else left open is aborted when
// the sink closes.
package filesink

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/protocol/filestream"
)

var (
	ErrSinkClosed   = errors.New("filesink: sink closed")
	ErrInvalidName  = errors.New("filesink: invalid file name")
	ErrWriterClosed = errors.New("filesink: writer already committed or aborted")
)

// Meta describes one incoming file.
type Meta struct {
	Conn    string
	FileID  int32
	Context string
	Name    string
}

// Key is the relative destination path: context/name, both reduced to safe segments.
func (m Meta) Key() (string, error) {
	name := cleanSegment(m.Name)
	if name == "" {
		name = fmt.Sprintf("file-%d", m.FileID)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	parts := make([]string, 0, 3)
	if c := cleanSegment(m.Context); c != "" && c != "." && c != ".." {
		parts = append(parts, c)
	}
	parts = append(parts, name)
	return path.Join(parts...), nil
}

func cleanSegment(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
	if s == "" {
		return ""
	}
	return path.Base(s)
}

// Writer receives the chunks of one file.
type Writer interface {
	// WriteChunk appends data; final commits the file.
	WriteChunk(data []byte, final bool) error
	// Abort discards a file that never saw its final chunk.
	Abort() error
}

// Sink is a file destination.
type Sink interface {
	Open(ctx context.Context, meta Meta) (Writer, error)
	Close() error
}

// Router tracks open writers so that files cut short by a dropped link are aborted.
type Router struct {
	sink Sink

	mu     sync.Mutex
	open   map[string]map[int32]Writer
	closed bool
}

func NewRouter(sink Sink) *Router {
	return &Router{sink: sink, open: make(map[string]map[int32]Writer)}
}

// BeginFile is a link.Hooks.OnBeginFile implementation.
func (r *Router) BeginFile(c *link.Conn, s *filestream.Stream) error {
	meta := Meta{Conn: c.Name(), FileID: s.FileID(), Context: s.Context(), Name: s.Name()}
	w, err := r.sink.Open(context.Background(), meta)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = w.Abort()
		return ErrSinkClosed
	}
	files := r.open[meta.Conn]
	if files == nil {
		files = make(map[int32]Writer)
		r.open[meta.Conn] = files
	}
	files[meta.FileID] = w
	r.mu.Unlock()

	s.OnChunk(func(data []byte, final bool) error {
		err := w.WriteChunk(data, final)
		if final || err != nil {
			r.forget(meta.Conn, meta.FileID)
		}
		if err != nil {
			_ = w.Abort()
		}
		return err
	})
	return nil
}

// ConnClosed aborts the files c left unfinished. Call it from link.Hooks.OnClosed.
func (r *Router) ConnClosed(c *link.Conn, _ error) {
	r.mu.Lock()
	files := r.open[c.Name()]
	delete(r.open, c.Name())
	r.mu.Unlock()
	for _, w := range files {
		_ = w.Abort()
	}
}

func (r *Router) forget(conn string, id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if files := r.open[conn]; files != nil {
		delete(files, id)
		if len(files) == 0 {
			delete(r.open, conn)
		}
	}
}

// Open reports files in progress.
func (r *Router) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, files := range r.open {
		n += len(files)
	}
	return n
}

// Close aborts every open file and closes the sink.
func (r *Router) Close() error {
	r.mu.Lock()
	r.closed = true
	open := r.open
	r.open = make(map[string]map[int32]Writer)
	r.mu.Unlock()

	var result *multierror.Error
	for _, files := range open {
		for _, w := range files {
			if err := w.Abort(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := r.sink.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
