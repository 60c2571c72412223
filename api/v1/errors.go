package v1

import "errors"

var (
	ErrDownloadCtx      = errors.New("download missing in context")
	ErrDesiredState     = errors.New("desired state missing in context")
	ErrDesiredStateJSON = errors.New("desiredState is required")
	ErrURLRequired      = errors.New("url is required")
	ErrTargetRequired   = errors.New("target is required")
	ErrContentType      = errors.New("Content-Type must be application/json")
)
