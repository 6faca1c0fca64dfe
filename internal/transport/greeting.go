package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"
)

// Greeting is written in the clear by a TLS listener once its handshake completed.
var Greeting = []byte("Hello")

func WriteGreeting(conn net.Conn, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(Greeting); err != nil {
		return fmt.Errorf("transport: write greeting: %w", err)
	}
	return nil
}

// ReadGreeting consumes the listener greeting and rejects anything else.
func ReadGreeting(conn net.Conn, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, len(Greeting))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("transport: read greeting: %w", err)
	}
	if !bytes.Equal(buf, Greeting) {
		return fmt.Errorf("transport: unexpected greeting %q", buf)
	}
	return nil
}
