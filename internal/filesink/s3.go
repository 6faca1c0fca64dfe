package filesink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	logs "github.com/danmuck/binlink/internal/logging"
)

// MinPartSize is the smallest part S3 accepts for any but the last part of an upload.
const MinPartSize = 5 << 20

// S3API is the part of *s3.Client the sink uses.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type S3Config struct {
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	// PathStyle addresses the bucket in the path, as MinIO and most emulators expect.
	PathStyle       bool   `toml:"path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PartSize        int    `toml:"part_size"`
}

// NewS3Client builds a client with static credentials from cfg.
func NewS3Client(cfg S3Config) *s3.Client {
	creds := aws.Credentials{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Source:          "binlink",
	}
	return s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}),
		BaseEndpoint: optionalString(cfg.Endpoint),
		UsePathStyle: cfg.PathStyle,
	})
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return aws.String(s)
}

// S3Sink streams each file into a multipart upload, buffering chunks into parts of at
// least PartSize bytes.
type S3Sink struct {
	client   S3API
	bucket   string
	prefix   string
	partSize int
	closed   atomic.Bool
}

func NewS3Sink(client S3API, cfg S3Config) (*S3Sink, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("filesink: s3 bucket required")
	}
	partSize := cfg.PartSize
	if partSize < MinPartSize {
		partSize = MinPartSize
	}
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, partSize: partSize}, nil
}

func (s *S3Sink) Open(ctx context.Context, meta Meta) (Writer, error) {
	if s.closed.Load() {
		return nil, ErrSinkClosed
	}
	key, err := meta.Key()
	if err != nil {
		return nil, err
	}
	key = s.prefix + key
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Metadata: map[string]string{
			"conn":    meta.Conn,
			"context": meta.Context,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("filesink: s3 create upload %s: %w", key, err)
	}
	return &s3Writer{sink: s, key: key, uploadID: aws.ToString(out.UploadId), meta: meta}, nil
}

func (s *S3Sink) Close() error {
	s.closed.Store(true)
	return nil
}

type s3Writer struct {
	sink     *S3Sink
	key      string
	uploadID string
	meta     Meta

	mu    sync.Mutex
	buf   bytes.Buffer
	parts []types.CompletedPart
	n     uint64
	done  bool
}

func (w *s3Writer) WriteChunk(data []byte, final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterClosed
	}
	w.buf.Write(data)
	w.n += uint64(len(data))
	ctx := context.Background()
	if w.buf.Len() >= w.sink.partSize || (final && (w.buf.Len() > 0 || len(w.parts) == 0)) {
		if err := w.uploadPart(ctx); err != nil {
			return err
		}
	}
	if !final {
		return nil
	}
	_, err := w.sink.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.sink.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		return fmt.Errorf("filesink: s3 complete %s: %w", w.key, err)
	}
	w.done = true
	logs.Infof("filesink.s3 stored conn=%q key=%q size=%s parts=%d", w.meta.Conn, w.key, humanize.Bytes(w.n), len(w.parts))
	return nil
}

func (w *s3Writer) uploadPart(ctx context.Context) error {
	number := int32(len(w.parts) + 1)
	out, err := w.sink.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.sink.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(number),
		Body:       bytes.NewReader(bytes.Clone(w.buf.Bytes())),
	})
	if err != nil {
		return fmt.Errorf("filesink: s3 upload part %d of %s: %w", number, w.key, err)
	}
	w.parts = append(w.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	w.buf.Reset()
	return nil
}

func (w *s3Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	_, err := w.sink.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.sink.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil {
		return fmt.Errorf("filesink: s3 abort %s: %w", w.key, err)
	}
	logs.Warnf("filesink.s3 aborted conn=%q key=%q after=%s", w.meta.Conn, w.key, humanize.Bytes(w.n))
	return nil
}
