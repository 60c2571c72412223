// Package sink provides the byte consumers a download streams into.
package sink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
)

var (
	// ErrNotStarted is returned when bytes arrive before Start succeeded.
	ErrNotStarted = errors.New("sink not started")
	// ErrTarget is returned when a target string cannot be mapped to a sink.
	ErrTarget = errors.New("unsupported sink target")
)

// ByteSink receives the raw chunks of one download.
//
// Start acquires whatever the sink writes to. HandleBytes is called in stream
// order with non-overlapping chunks; p is only valid for the duration of the
// call. A non-nil error from HandleBytes ends the stream and the caller will
// not call it again. Terminate releases resources and is called exactly once
// after a successful Start, however the download ended.
//
// Implementations never panic across these methods; I/O failures come back
// as errors.
type ByteSink interface {
	Start() error
	HandleBytes(p []byte) error
	Terminate() error
}

// blobSchemes are the bucket URL schemes Open hands to gocloud.
var blobSchemes = map[string]bool{
	"file": true,
	"mem":  true,
	"s3":   true,
}

// Open maps a target to a sink. Targets carrying a bucket scheme
// ("mem://bucket/key", "file:///dir/key", "s3://bucket/key") become a
// BlobSink; anything else is treated as a local file path.
func Open(target string, policy downloadcfg.CollisionPolicy) (ByteSink, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrTarget)
	}
	if !strings.Contains(target, "://") {
		return NewFileSink(target, policy), nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTarget, err)
	}
	if !blobSchemes[u.Scheme] {
		return nil, fmt.Errorf("%w: scheme %q", ErrTarget, u.Scheme)
	}
	bucketURL, key, err := splitBlobTarget(u)
	if err != nil {
		return nil, err
	}
	return NewBlobURLSink(bucketURL, key), nil
}

// splitBlobTarget cuts the last path element off as the object key. Query
// parameters stay on the bucket URL.
func splitBlobTarget(u *url.URL) (string, string, error) {
	p := u.Path
	i := strings.LastIndex(p, "/")
	if i < 0 || i == len(p)-1 {
		return "", "", fmt.Errorf("%w: missing object key in %q", ErrTarget, u.String())
	}
	key := p[i+1:]
	b := *u
	b.Path = p[:i]
	return b.String(), key, nil
}
