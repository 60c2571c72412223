package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobSink streams a download into an object of a gocloud bucket.
type BlobSink struct {
	bucketURL string
	bucket    *blob.Bucket
	owned     bool
	key       string
	log       *slog.Logger

	cancel context.CancelFunc
	w      *blob.Writer
}

var _ ByteSink = (*BlobSink)(nil)

// NewBlobSink writes key into an already opened bucket. The caller keeps
// ownership of the bucket.
func NewBlobSink(b *blob.Bucket, key string) *BlobSink {
	return &BlobSink{bucket: b, key: key, log: slog.Default()}
}

// NewBlobURLSink opens bucketURL at Start and closes it at Terminate.
func NewBlobURLSink(bucketURL, key string) *BlobSink {
	return &BlobSink{bucketURL: bucketURL, key: key, log: slog.Default()}
}

// SetLogger allows wiring a shared application logger into the sink.
func (s *BlobSink) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *BlobSink) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	if s.bucket == nil {
		b, err := blob.OpenBucket(ctx, s.bucketURL)
		if err != nil {
			cancel()
			s.log.Warn("open bucket", "bucket", s.bucketURL, "err", err)
			return fmt.Errorf("open bucket: %w", err)
		}
		s.bucket = b
		s.owned = true
	}
	w, err := s.bucket.NewWriter(ctx, s.key, nil)
	if err != nil {
		cancel()
		s.closeBucket()
		s.log.Warn("open blob writer", "key", s.key, "err", err)
		return fmt.Errorf("open blob writer: %w", err)
	}
	s.cancel = cancel
	s.w = w
	return nil
}

func (s *BlobSink) HandleBytes(p []byte) error {
	if s.w == nil {
		return ErrNotStarted
	}
	if _, err := s.w.Write(p); err != nil {
		s.log.Warn("could not write data", "key", s.key, "err", err)
		return err
	}
	return nil
}

func (s *BlobSink) Terminate() error {
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.cancel()
	s.w = nil
	err = errors.Join(err, s.closeBucket())
	if err != nil {
		s.log.Warn("close blob", "key", s.key, "err", err)
	}
	return err
}

func (s *BlobSink) closeBucket() error {
	if !s.owned || s.bucket == nil {
		return nil
	}
	err := s.bucket.Close()
	s.bucket = nil
	s.owned = false
	return err
}

func (s *BlobSink) String() string {
	if s.bucketURL != "" {
		return "blob sink: " + s.bucketURL + "/" + s.key
	}
	return "blob sink: " + s.key
}
