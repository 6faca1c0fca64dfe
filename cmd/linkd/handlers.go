package main

import (
	"context"

	"github.com/danmuck/binlink/internal/link"
	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/protocol/message"
)

// Built-in request handlers.
const (
	HandlerEcho int32 = 1
	// HandlerStats answers with ResultSucceeded once the caller's counters are logged.
	HandlerStats int32 = 2
)

func handleRequest(c *link.Conn, req *message.Envelope) error {
	ctx := context.Background()
	switch req.Handler {
	case HandlerEcho:
		body := req.Body
		if body == nil {
			body = message.NewResultBody(message.ResultSucceeded)
		}
		return c.Respond(ctx, req, body)
	case HandlerStats:
		logs.Infof("linkd.stats %s", c.String())
		return c.Enqueue(ctx, message.NewResultResponse(req, message.ResultSucceeded))
	default:
		return c.Enqueue(ctx, message.NewResultResponse(req, message.ResultHandlerNotImplemented))
	}
}

func handleEvent(c *link.Conn, ev *message.Envelope) error {
	body := "<nil>"
	if ev.Body != nil {
		body = ev.Body.String()
	}
	logs.Infof("linkd.event conn=%q handler=%d body=%s", c.Name(), ev.Handler, body)
	return nil
}
