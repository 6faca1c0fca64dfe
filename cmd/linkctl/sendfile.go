package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/protocol/filestream"
)

const defaultChunkSize = 64 * 1024

func sendFileCmd(opts *globalOptions) *cobra.Command {
	var (
		fileContext string
		name        string
		chunkSize   string
	)
	cmd := &cobra.Command{
		Use:   "send-file PATH",
		Short: "Stream a local file over the link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := humanize.ParseBytes(chunkSize)
			if err != nil {
				return fmt.Errorf("chunk-size: %w", err)
			}
			if size == 0 || size > 16<<20 {
				return fmt.Errorf("chunk-size %s out of range", chunkSize)
			}
			c, err := connect(cmd.Context(), opts, link.Hooks{})
			if err != nil {
				return err
			}
			defer c.Close()
			report, err := sendFile(cmd.Context(), c, args[0], fileContext, name, int(size))
			if err != nil {
				return err
			}
			if err := c.Shutdown(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s file=%d chunks=%d %s\n",
				report.Name, report.FileID, report.LastChunkID, humanize.Bytes(uint64(report.ByteCount)))
			return nil
		},
	}
	cmd.Flags().StringVar(&fileContext, "context", "", "context string carried on the first chunk")
	cmd.Flags().StringVar(&name, "name", "", "remote file name (base of PATH when empty)")
	cmd.Flags().StringVar(&chunkSize, "chunk-size", humanize.IBytes(defaultChunkSize), "bytes per chunk, e.g. 64KiB")
	return cmd
}

// sendFile writes path through a new write stream, one chunk per read. Reading one chunk
// ahead lets the last data chunk carry the final flag.
func sendFile(ctx context.Context, c *link.Conn, path, fileContext, name string, chunkSize int) (filestream.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return filestream.Report{}, err
	}
	defer f.Close()
	if name == "" {
		name = filepath.Base(path)
	}
	s, err := c.CreateWriteFileStream(fileContext, name)
	if err != nil {
		return filestream.Report{}, err
	}

	buf := make([]byte, chunkSize)
	next := make([]byte, chunkSize)
	n, err := io.ReadFull(f, buf)
	for {
		switch {
		case errors.Is(err, io.EOF):
			return filestream.Report{}, fmt.Errorf("%s: empty file", path)
		case errors.Is(err, io.ErrUnexpectedEOF):
			if err := s.Write(ctx, buf[:n], true); err != nil {
				return s.Report(), err
			}
			return s.Report(), nil
		case err != nil:
			return s.Report(), err
		}
		m, nextErr := io.ReadFull(f, next)
		final := errors.Is(nextErr, io.EOF)
		if err := s.Write(ctx, buf[:n], final); err != nil {
			return s.Report(), err
		}
		if final {
			return s.Report(), nil
		}
		buf, next = next, buf
		n, err = m, nextErr
	}
}
