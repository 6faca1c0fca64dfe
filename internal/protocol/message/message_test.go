package message

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/codec"
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/schema"
	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, env *Envelope) *Envelope {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	data, err := codec.NewEncoder().Encode(env.ToEntity())
	require.NoError(t, err)
	e, err := codec.NewDecoder(bytes.NewReader(data), codec.Options{Registry: reg}).Decode()
	require.NoError(t, err)
	require.Same(t, EnvelopeType, e.Type())
	got, err := FromEntity(e)
	require.NoError(t, err)
	return got
}

func TestEnvelopeRoundTrip(t *testing.T) {
	testlog.Start(t)
	req := NewRequest(42, NewResultBody(ResultSucceeded))
	req.ID = 7
	req.Time = 1_700_000_000_123

	got := roundTrip(t, req)
	require.Equal(t, int64(7), got.ID)
	require.Equal(t, Request, got.Type)
	require.Equal(t, int32(42), got.Handler)
	require.Equal(t, req.Time, got.Time)
	require.Zero(t, got.RequestID)
	require.Equal(t, ResultSucceeded, got.Result())
	require.Nil(t, got.Async)
}

func TestNewResponseCopiesCorrelation(t *testing.T) {
	testlog.Start(t)
	req := NewRequest(3, nil)
	req.ID = 11
	req.Time = 555

	resp := NewResultResponse(req, ResultDataNotFound)
	require.Equal(t, Response, resp.Type)
	require.Equal(t, int64(11), resp.RequestID)
	require.Equal(t, int64(555), resp.RequestTime)
	require.Equal(t, int32(3), resp.Handler)

	got := roundTrip(t, resp)
	require.Equal(t, int64(11), got.RequestID)
	require.Equal(t, int64(555), got.RequestTime)
	require.Equal(t, ResultDataNotFound, got.Result())
	require.True(t, got.Result().Failed())
}

func TestNewPongEchoesPing(t *testing.T) {
	testlog.Start(t)
	ping := New(Ping)
	ping.ID = 9
	pong := NewPong(ping)
	require.Equal(t, Pong, pong.Type)
	require.Equal(t, int64(9), pong.RequestID)
	require.Equal(t, ping.Time, pong.RequestTime)
}

func TestResultWithoutResultField(t *testing.T) {
	testlog.Start(t)
	env := New(Event)
	require.Equal(t, ResultNone, env.Result())

	other := schema.MustType(200, "Note", schema.Field{ID: 2, Name: "Text", Tag: schema.String})
	body := entity.NewEntity(other)
	body.Put(2, "hello")
	env.Body = body
	require.Equal(t, ResultNone, env.Result())
}

func TestFromEntityRejectsForeignObjects(t *testing.T) {
	testlog.Start(t)
	_, err := FromEntity(NewResultBody(ResultSucceeded))
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	e := New(Ping).ToEntity()
	KeyMessageType.Put(e, 6)
	_, err = FromEntity(e)
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestFileChunkCarriesNameOnlyOnFirstChunk(t *testing.T) {
	testlog.Start(t)
	first := FileChunk{FileID: 4, Context: "uploads", FileName: "report.csv", ChunkID: 1, Data: []byte("a,b\n")}
	second := FileChunk{FileID: 4, Context: "uploads", FileName: "report.csv", ChunkID: 2, Data: []byte("1,2\n"), Final: true}

	require.True(t, KeyFileName.Has(first.ToEntity()))
	require.False(t, KeyFileName.Has(second.ToEntity()))
	require.False(t, KeyContext.Has(second.ToEntity()))

	env := NewFile(second)
	require.NotNil(t, env.Async)
	got, err := roundTrip(t, env).FileChunk()
	require.NoError(t, err)
	require.Equal(t, int32(4), got.FileID)
	require.Equal(t, int32(2), got.ChunkID)
	require.Empty(t, got.FileName)
	require.True(t, got.Final)
	require.Equal(t, []byte("1,2\n"), got.Data)

	got, err = roundTrip(t, NewFile(first)).FileChunk()
	require.NoError(t, err)
	require.Equal(t, "uploads", got.Context)
	require.Equal(t, "report.csv", got.FileName)
	require.True(t, got.First())
}

func TestFileChunkValidation(t *testing.T) {
	testlog.Start(t)
	_, err := New(Event).FileChunk()
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	body := entity.NewEntity(FileChunkType)
	KeyFileID.Put(body, 1)
	_, err = FileChunkFromEntity(body)
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	KeyChunkID.Put(body, 0)
	_, err = FileChunkFromEntity(body)
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestAsyncResponseFirstDeliveryWins(t *testing.T) {
	testlog.Start(t)
	a := NewAsyncResponse()
	first := New(Response)
	require.True(t, a.Set(first))
	require.False(t, a.Set(New(Response)))
	require.False(t, a.Fail(errors.New("late")))

	got, err := a.WaitTimeout(time.Second)
	require.NoError(t, err)
	require.Same(t, first, got)
}

func TestAsyncResponseWaitTimesOut(t *testing.T) {
	testlog.Start(t)
	a := NewAsyncResponse()
	got, err := a.WaitTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, got)
	_, ok := a.Response()
	require.False(t, ok)
}

func TestAsyncResponseReleasesConcurrentWaiters(t *testing.T) {
	testlog.Start(t)
	a := NewAsyncResponse()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Wait(context.Background())
			errs <- err
		}()
	}
	a.Fail(protocol.ErrClosed)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, protocol.ErrClosed)
	}
}

func TestAsyncResponseReset(t *testing.T) {
	testlog.Start(t)
	a := NewAsyncResponse()
	a.Set(New(Response))
	a.Reset()
	_, ok := a.Response()
	require.False(t, ok)

	second := New(Response)
	require.True(t, a.Set(second))
	got, ok := a.Response()
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestRegistryHoldsBuiltins(t *testing.T) {
	testlog.Start(t)
	extra := schema.MustType(200, "Note", schema.Field{ID: 2, Name: "Text", Tag: schema.String})
	reg, err := NewRegistry(extra)
	require.NoError(t, err)
	require.Equal(t, 4, reg.Len())
	for _, id := range []uint16{EnvelopeTypeID, BodyTypeID, FileChunkTypeID, 200} {
		_, ok := reg.Lookup(id)
		require.True(t, ok, "id %d", id)
	}

	_, err = NewRegistry(schema.MustType(EnvelopeTypeID, "Other"))
	require.Error(t, err)
}

func TestTypeNames(t *testing.T) {
	testlog.Start(t)
	for _, mt := range Types() {
		require.True(t, mt.Valid())
	}
	require.False(t, Type(6).Valid())
	require.Equal(t, "Type(6)", Type(6).String())
	require.Equal(t, "Timeout", ResultTimeout.String())
}
