package sink

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
)

const fileBufferSize = 64 << 10

// FileSink writes a download to a local file through a buffered writer.
type FileSink struct {
	path     string
	resolved string
	policy   downloadcfg.CollisionPolicy
	log      *slog.Logger

	f *os.File
	w *bufio.Writer
}

var _ ByteSink = (*FileSink)(nil)

// NewFileSink returns a sink for path. The collision policy is applied at Start.
func NewFileSink(path string, policy downloadcfg.CollisionPolicy) *FileSink {
	return &FileSink{path: path, policy: policy, log: slog.Default()}
}

// SetLogger allows wiring a shared application logger into the sink.
func (s *FileSink) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// Path returns the file actually written, which differs from the requested
// path under CollisionRename. Empty before Start.
func (s *FileSink) Path() string { return s.resolved }

func (s *FileSink) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Warn("create target directory", "path", s.path, "err", err)
		return fmt.Errorf("create directory: %w", err)
	}
	resolved, err := downloadcfg.ResolveTarget(s.path, s.policy)
	if err != nil {
		s.log.Warn("resolve target", "path", s.path, "policy", s.policy, "err", err)
		return err
	}
	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.log.Warn("open target", "path", resolved, "err", err)
		return fmt.Errorf("open target: %w", err)
	}
	s.resolved = resolved
	s.f = f
	s.w = bufio.NewWriterSize(f, fileBufferSize)
	return nil
}

func (s *FileSink) HandleBytes(p []byte) error {
	if s.w == nil {
		return ErrNotStarted
	}
	if _, err := s.w.Write(p); err != nil {
		s.log.Warn("could not write data", "path", s.resolved, "err", err)
		return err
	}
	return nil
}

func (s *FileSink) Terminate() error {
	if s.f == nil {
		return nil
	}
	err := errors.Join(s.w.Flush(), s.f.Sync(), s.f.Close())
	if err != nil {
		s.log.Warn("close target", "path", s.resolved, "err", err)
	}
	s.f = nil
	s.w = nil
	return err
}

func (s *FileSink) String() string { return "file sink: " + s.path }
