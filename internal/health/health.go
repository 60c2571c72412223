// Package health implements the readiness checks behind /readyz.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrLowDisk is returned when the download directory is short on space.
var ErrLowDisk = errors.New("insufficient free disk space")

// Pinger is satisfied by repositories that can report their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one readiness check.
type Check func(ctx context.Context) error

// PingCheck wraps a Pinger.
func PingCheck(p Pinger) Check {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		return nil
	}
}

// usage is swapped in tests.
var usage = disk.UsageWithContext

// DiskCheck fails when the filesystem holding dir has fewer than minFree
// bytes available. A missing dir is checked through its nearest existing
// parent. minFree <= 0 disables the check.
func DiskCheck(dir string, minFree int64) Check {
	return func(ctx context.Context) error {
		if minFree <= 0 || dir == "" {
			return nil
		}
		path := existingParent(dir)
		st, err := usage(ctx, path)
		if err != nil {
			return fmt.Errorf("disk usage of %s: %w", path, err)
		}
		if st.Free < uint64(minFree) {
			return fmt.Errorf("%w: %d bytes free on %s, want %d", ErrLowDisk, st.Free, path, minFree)
		}
		return nil
	}
}

func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Run executes checks in order and returns the first failure.
func Run(ctx context.Context, checks ...Check) error {
	for _, c := range checks {
		if c == nil {
			continue
		}
		if err := c(ctx); err != nil {
			return err
		}
	}
	return nil
}
