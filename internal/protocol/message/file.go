package message

import (
	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/entity"
)

// FileChunk is one piece of a file transfer.
type FileChunk struct {
	FileID   int32
	Context  string
	FileName string
	ChunkID  int32
	Data     []byte
	Final    bool
}

// First reports whether c opens its file.
func (c FileChunk) First() bool {
	return c.ChunkID == FirstChunkID
}

// ToEntity builds the chunk body. Context and FileName are written only on the first chunk.
func (c FileChunk) ToEntity() *entity.Entity {
	e := entity.NewEntity(FileChunkType)
	KeyFileID.Put(e, c.FileID)
	KeyChunkID.Put(e, c.ChunkID)
	if c.First() {
		KeyContext.Put(e, c.Context)
		KeyFileName.Put(e, c.FileName)
	}
	KeyFileChunk.Put(e, c.Data)
	KeyIsFinalChunk.Put(e, c.Final)
	return e
}

// FileChunkFromEntity reads a chunk body. FileId and ChunkId are required.
func FileChunkFromEntity(e *entity.Entity) (FileChunk, error) {
	if e == nil || e.Type() == nil || e.Type().ID() != FileChunkTypeID {
		return FileChunk{}, protocol.Malformedf("message: file envelope body is %v", typeName(e))
	}
	fileID, ok := KeyFileID.Get(e)
	if !ok {
		return FileChunk{}, protocol.Malformedf("message: file chunk without FileId")
	}
	chunkID, ok := KeyChunkID.Get(e)
	if !ok || chunkID < FirstChunkID {
		return FileChunk{}, protocol.Malformedf("message: file %d: invalid ChunkId", fileID)
	}
	return FileChunk{
		FileID:   fileID,
		Context:  KeyContext.Value(e, ""),
		FileName: KeyFileName.Value(e, ""),
		ChunkID:  chunkID,
		Data:     KeyFileChunk.Value(e, nil),
		Final:    KeyIsFinalChunk.Value(e, false),
	}, nil
}

// NewFile wraps c in a File envelope with a fresh AsyncResponse the writer releases once
// the chunk is on the wire.
func NewFile(c FileChunk) *Envelope {
	env := New(File)
	env.Body = c.ToEntity()
	env.Async = NewAsyncResponse()
	return env
}

// FileChunk decodes the body of a File envelope.
func (env *Envelope) FileChunk() (FileChunk, error) {
	if env.Type != File {
		return FileChunk{}, protocol.Malformedf("message: %s envelope has no file chunk", env.Type)
	}
	return FileChunkFromEntity(env.Body)
}
