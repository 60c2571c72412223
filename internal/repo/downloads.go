package repo

import (
	"context"

	"github.com/dmorcellet/delta-downloads/internal/data"
)

type DownloadRepo interface {
	DownloadReader
	DownloadWriter
	Ping(ctx context.Context) error
}

type DownloadReader interface {
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id string) (*data.Download, error)
	GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error)
}

// DownloadWriter mutates stored downloads.
//
// A fingerprint only reserves its slot while the download is not terminal:
// once Update moves a record to a terminal state the fingerprint is
// released and the same url/target pair can be added again.
type DownloadWriter interface {
	Add(ctx context.Context, d *data.Download) (*data.Download, error)
	// AddWithFingerprint inserts d unless a live download holds fprint, in
	// which case that download is returned with created=false.
	AddWithFingerprint(ctx context.Context, d *data.Download, fprint string) (dl *data.Download, created bool, err error)
	// Update applies mutate to the latest copy of id and stores the result.
	Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error)
	Delete(ctx context.Context, id string) error
}
