package filesink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	logs "github.com/danmuck/binlink/internal/logging"
)

const partSuffix = ".part"

// DiskSink writes files under a root directory. Data goes to a uniquely named
// .<name>.*.part file next to the destination and is renamed on the final chunk, so a
// completed path never holds a partial file and concurrent senders of one name never
// share a part file. The last one to finish wins the destination.
type DiskSink struct {
	root   string
	closed atomic.Bool
}

func NewDiskSink(root string) (*DiskSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filesink: create root: %w", err)
	}
	return &DiskSink{root: root}, nil
}

func (d *DiskSink) Root() string {
	return d.root
}

func (d *DiskSink) Open(_ context.Context, meta Meta) (Writer, error) {
	if d.closed.Load() {
		return nil, ErrSinkClosed
	}
	key, err := meta.Key()
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("filesink: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*"+partSuffix)
	if err != nil {
		return nil, fmt.Errorf("filesink: %w", err)
	}
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("filesink: %w", err)
	}
	return &diskWriter{f: f, dst: dst, meta: meta}, nil
}

func (d *DiskSink) Close() error {
	d.closed.Store(true)
	return nil
}

type diskWriter struct {
	mu   sync.Mutex
	f    *os.File
	dst  string
	meta Meta
	n    uint64
	done bool
}

func (w *diskWriter) WriteChunk(data []byte, final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterClosed
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("filesink: write %s: %w", w.dst, err)
	}
	w.n += uint64(len(data))
	if !final {
		return nil
	}
	w.done = true
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("filesink: sync %s: %w", w.dst, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("filesink: close %s: %w", w.dst, err)
	}
	if err := os.Rename(w.f.Name(), w.dst); err != nil {
		return fmt.Errorf("filesink: commit %s: %w", w.dst, err)
	}
	logs.Infof("filesink.disk stored conn=%q file=%q size=%s", w.meta.Conn, w.dst, humanize.Bytes(w.n))
	return nil
}

func (w *diskWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filesink: abort %s: %w", w.dst, err)
	}
	logs.Warnf("filesink.disk aborted conn=%q file=%q after=%s", w.meta.Conn, w.dst, humanize.Bytes(w.n))
	return nil
}
