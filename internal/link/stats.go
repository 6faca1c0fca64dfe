package link

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats is a point-in-time copy of a connection's counters.
type Stats struct {
	Name             string        `json:"name"`
	Remote           string        `json:"remote"`
	MessagesSent     uint64        `json:"messages_sent"`
	MessagesReceived uint64        `json:"messages_received"`
	BytesSent        uint64        `json:"bytes_sent"`
	BytesReceived    uint64        `json:"bytes_received"`
	LastRTT          time.Duration `json:"last_rtt_ns"`
	LastPong         time.Time     `json:"last_pong,omitzero"`
	OpenFiles        int           `json:"open_files"`
	PendingRequests  int           `json:"pending_requests"`
	StartedAt        time.Time     `json:"started_at,omitzero"`
}

func (c *Conn) Stats() Stats {
	s := Stats{
		Name:             c.name,
		Remote:           addrString(c.nc.RemoteAddr()),
		MessagesSent:     c.msgSent.Load(),
		MessagesReceived: c.msgRecv.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesRecv.Load(),
		LastRTT:          time.Duration(c.lastRTT.Load()),
		OpenFiles:        c.OpenFiles(),
		PendingRequests:  c.PendingRequests(),
	}
	if ns := c.lastPong.Load(); ns > 0 {
		s.LastPong = time.Unix(0, ns)
	}
	if c.started.Load() {
		s.StartedAt = c.startedAt
	}
	return s
}

// LastRTT is the round trip of the most recent Ping, zero before any Pong arrived.
func (c *Conn) LastRTT() time.Duration {
	return time.Duration(c.lastRTT.Load())
}

func (c *Conn) String() string {
	s := c.Stats()
	return fmt.Sprintf("%s Msg Sent/Received %d/%d Bytes %s/%s",
		s.Name, s.MessagesSent, s.MessagesReceived,
		humanize.Bytes(s.BytesSent), humanize.Bytes(s.BytesReceived))
}
