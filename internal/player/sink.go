package player

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"abrstream/internal/logger"
	"abrstream/internal/segments"
)

// FileSink writes delivered segments into a directory, named after the last
// path element of their source URL.
type FileSink struct {
	dir    string
	logger logger.Logger
}

// NewFileSink creates the output directory if needed.
func NewFileSink(dir string, log logger.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir, logger: log}, nil
}

func (s *FileSink) Push(desc segments.Descriptor, data []byte) error {
	name := "segment.bin"
	if u, err := url.Parse(desc.URL); err == nil && path.Base(u.Path) != "" {
		name = path.Base(u.Path)
	}
	target := filepath.Join(s.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	s.logger.Debugf("Wrote %d bytes to %s", len(data), target)
	return nil
}

// DiscardSink drops every segment. Useful for bandwidth probing and tests.
type DiscardSink struct{}

func (DiscardSink) Push(segments.Descriptor, []byte) error { return nil }
