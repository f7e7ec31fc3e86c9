package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.FileStorage = (*LocalStorage)(nil)

var errOutsideRoot = errors.New("key escapes storage root")

// LocalStorage reads uploads from a directory, keyed by file name.
// Used for development and the ingest command.
type LocalStorage struct {
	root     string
	maxBytes int64
}

// NewLocalStorage creates a LocalStorage rooted at dir.
func NewLocalStorage(dir string, maxBytes int64) (*LocalStorage, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage dir %s is not a directory", root)
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &LocalStorage{root: root, maxBytes: maxBytes}, nil
}

// Fetch reads the file named key, up to one byte past the size cap
func (s *LocalStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	path := filepath.Join(s.root, filepath.Clean("/"+key))
	if key == "" || !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrStorage, errOutsideRoot, key)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrStorage, domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStorage, key, err)
	}
	return data, nil
}
