// Package transport runs HTTP requests asynchronously and streams their
// outcome to a Handler.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
)

// ErrCancelled resolves a Future whose request was cancelled.
var ErrCancelled = errors.New("transport: request cancelled")

// Response is the part of an HTTP response a Handler gets to see.
type Response struct {
	StatusCode    int
	Status        string
	Header        http.Header
	ContentLength int64
}

// Handler receives the callbacks of one request, all on the request's own
// goroutine. ResponseReceived fires once headers arrive, BytesReceived for
// each body chunk in stream order, then exactly one of Completed, Failed or
// Cancelled. A non-nil error from BytesReceived stops the transfer.
type Handler interface {
	ResponseReceived(resp *Response)
	BytesReceived(p []byte) error
	Completed(resp *Response)
	Failed(err error)
	Cancelled()
}

// Transport submits a request and returns immediately with its Future.
type Transport interface {
	Execute(req *http.Request, h Handler) *Future
}

// Future is the cancellable handle of an in-flight request. It resolves
// after the handler's terminal callback has returned.
type Future struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	resp *Response
	err  error
}

// NewFuture returns an unresolved future. cancel is invoked by Cancel.
// Transport implementations resolve it with Resolve.
func NewFuture(cancel context.CancelFunc) *Future {
	return &Future{cancel: cancel, done: make(chan struct{})}
}

// Cancel requests interruption. It reports whether the request was still in
// flight; the outcome arrives through the handler's Cancelled callback.
func (f *Future) Cancel() bool {
	select {
	case <-f.done:
		return false
	default:
	}
	f.cancelled.Store(true)
	if f.cancel != nil {
		f.cancel()
	}
	return true
}

// CancelRequested reports whether Cancel was called before resolution.
func (f *Future) CancelRequested() bool { return f.cancelled.Load() }

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the request resolved or ctx is done. The response is
// returned even alongside an error when headers had already arrived.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve records the outcome and releases waiters. Must be called once.
func (f *Future) Resolve(resp *Response, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}
