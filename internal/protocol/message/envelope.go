package message

import (
	"fmt"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/entity"
)

var nowFunc = time.Now

// Timestamp returns the envelope clock: milliseconds since the Unix epoch.
func Timestamp() int64 {
	return nowFunc().UnixMilli()
}

// Envelope is the transport record for one message. ID is assigned by the link writer at
// the moment of the physical write; callers leave it zero.
type Envelope struct {
	ID          int64
	RequestID   int64
	Type        Type
	Handler     int32
	Body        *entity.Entity
	Time        int64
	RequestTime int64

	// Async is released by the writer or the reader depending on Type. It never travels.
	Async *AsyncResponse
}

// New returns an envelope of type t stamped with the current time.
func New(t Type) *Envelope {
	return &Envelope{Type: t, Time: Timestamp()}
}

func NewRequest(handler int32, body *entity.Entity) *Envelope {
	env := New(Request)
	env.Handler = handler
	env.Body = body
	return env
}

func NewEvent(handler int32, body *entity.Entity) *Envelope {
	env := New(Event)
	env.Handler = handler
	env.Body = body
	return env
}

// NewResponse answers req with body. The handler is copied so the peer can route it.
func NewResponse(req *Envelope, body *entity.Entity) *Envelope {
	env := New(Response)
	env.Handler = req.Handler
	env.RequestID = req.ID
	env.RequestTime = req.Time
	env.Body = body
	return env
}

// NewResultResponse answers req with a base body carrying only r.
func NewResultResponse(req *Envelope, r Result) *Envelope {
	return NewResponse(req, NewResultBody(r))
}

// NewPong answers a ping, echoing its id and time for round-trip measurement.
func NewPong(ping *Envelope) *Envelope {
	env := New(Pong)
	env.RequestID = ping.ID
	env.RequestTime = ping.Time
	return env
}

func NewResultBody(r Result) *entity.Entity {
	body := entity.NewEntity(BodyType)
	KeyResult.Put(body, int32(r))
	return body
}

// Result reads the result code from a response body. Bodies without one report ResultNone.
func (env *Envelope) Result() Result {
	if env.Body == nil {
		return ResultNone
	}
	if f, ok := env.Body.Type().Field(KeyResult.ID); !ok || f.Tag != KeyResult.Tag {
		return ResultNone
	}
	v, ok := KeyResult.Get(env.Body)
	if !ok {
		return ResultNone
	}
	return Result(v)
}

// ToEntity converts env to its wire entity. Zero-valued optional fields are omitted.
func (env *Envelope) ToEntity() *entity.Entity {
	e := entity.NewEntity(EnvelopeType)
	KeyID.Put(e, env.ID)
	if env.RequestID != 0 {
		KeyRequestID.Put(e, env.RequestID)
	}
	KeyMessageType.Put(e, int32(env.Type))
	if env.Handler != 0 {
		KeyHandler.Put(e, env.Handler)
	}
	if env.Body != nil {
		KeyBody.Put(e, env.Body)
	}
	KeyTime.Put(e, env.Time)
	if env.RequestTime != 0 {
		KeyRequestTime.Put(e, env.RequestTime)
	}
	return e
}

// FromEntity reads an envelope from a decoded entity.
func FromEntity(e *entity.Entity) (*Envelope, error) {
	if e == nil || e.Type() == nil || e.Type().ID() != EnvelopeTypeID {
		return nil, protocol.Malformedf("message: object is not an envelope: %v", typeName(e))
	}
	t := Type(KeyMessageType.Value(e, int32(EmptyAlive)))
	if !t.Valid() {
		return nil, protocol.Malformedf("message: unknown message type %d", int32(t))
	}
	env := &Envelope{
		ID:          KeyID.Value(e, 0),
		RequestID:   KeyRequestID.Value(e, 0),
		Type:        t,
		Handler:     KeyHandler.Value(e, 0),
		Time:        KeyTime.Value(e, 0),
		RequestTime: KeyRequestTime.Value(e, 0),
	}
	if body, ok := KeyBody.Get(e); ok {
		env.Body = body
	}
	return env, nil
}

func (env *Envelope) String() string {
	if env == nil {
		return "<nil envelope>"
	}
	s := fmt.Sprintf("%s id=%d", env.Type, env.ID)
	if env.RequestID != 0 {
		s += fmt.Sprintf(" request_id=%d", env.RequestID)
	}
	if env.Handler != 0 {
		s += fmt.Sprintf(" handler=%d", env.Handler)
	}
	if env.Body != nil {
		s += " body=" + env.Body.Type().Name()
	}
	return s
}

func typeName(e *entity.Entity) string {
	if e == nil || e.Type() == nil {
		return "nil"
	}
	return e.Type().String()
}
