package message

import (
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/schema"
)

const (
	EnvelopeTypeID  uint16 = 10
	BodyTypeID      uint16 = 20
	FileChunkTypeID uint16 = 30

	// FirstChunkID is the chunk that opens a file and carries its context and name.
	FirstChunkID int32 = 1
)

// Envelope fields.
var (
	KeyID          = entity.NewKey[int64](1, "Id", schema.Int64)
	KeyRequestID   = entity.NewKey[int64](2, "RequestId", schema.Int64)
	KeyMessageType = entity.NewKey[int32](6, "MessageType", schema.Int32)
	KeyHandler     = entity.NewKey[int32](8, "Handler", schema.Int32)
	KeyBody        = entity.NewKey[*entity.Entity](12, "Body", schema.Object)
	KeyTime        = entity.NewKey[int64](16, "Time", schema.Int64)
	KeyRequestTime = entity.NewKey[int64](17, "RequestTime", schema.Int64)
)

// Base body field. Application body types that carry a result reuse this id.
var KeyResult = entity.NewKey[int32](2, "Result", schema.Int32)

// File chunk body fields. Context and FileName travel only on the first chunk.
var (
	KeyContext      = entity.NewKey[string](2, "Context", schema.String)
	KeyFileID       = entity.NewKey[int32](6, "FileId", schema.Int32)
	KeyFileName     = entity.NewKey[string](8, "FileName", schema.String)
	KeyChunkID      = entity.NewKey[int32](16, "ChunkId", schema.Int32)
	KeyFileChunk    = entity.NewKey[[]byte](18, "FileChunk", schema.ByteArray)
	KeyIsFinalChunk = entity.NewKey[bool](22, "IsFinalChunk", schema.Bool)
)

var (
	EnvelopeType = schema.MustType(EnvelopeTypeID, "BinMessage",
		KeyID.Field, KeyRequestID.Field, KeyMessageType.Field, KeyHandler.Field,
		KeyBody.Field, KeyTime.Field, KeyRequestTime.Field,
	)
	BodyType = schema.MustType(BodyTypeID, "BinMessageBody",
		KeyResult.Field,
	)
	FileChunkType = schema.MustType(FileChunkTypeID, "FileMessageBody",
		KeyContext.Field, KeyFileID.Field, KeyFileName.Field,
		KeyChunkID.Field, KeyFileChunk.Field, KeyIsFinalChunk.Field,
	)
)

// NewRegistry returns a registry holding the built-in types plus extra. Callers seal it
// once their own body types are added.
func NewRegistry(extra ...*schema.Type) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, t := range append([]*schema.Type{EnvelopeType, BodyType, FileChunkType}, extra...) {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
