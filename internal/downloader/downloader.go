// Package downloader drives single HTTP downloads from request to sink and
// reports their progress to listeners.
package downloader

import "errors"

var (
	// ErrSinkStart is returned by Start when the sink could not be opened.
	ErrSinkStart = errors.New("sink failed to start")
	// ErrSinkWrite stops a transfer whose sink rejected a chunk.
	ErrSinkWrite = errors.New("sink rejected bytes")
	// ErrBadRequest is returned by Start when no request can be built from the URL.
	ErrBadRequest = errors.New("cannot build request")
	// ErrAlreadyStarted is returned by Start on a task that left NotStarted.
	ErrAlreadyStarted = errors.New("download already started")
	// ErrNotStarted is carried by a Termination of a task that never started.
	ErrNotStarted = errors.New("download not started")
	// ErrUnknownTask is returned by Registry lookups that miss.
	ErrUnknownTask = errors.New("unknown download task")
)
