package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InboundStore writes received files under a single directory. When a name
// is already taken it appends an incrementing counter before the extension
// instead of overwriting, so photo.png becomes photo_1.png, photo_2.png, ...
type InboundStore struct {
	dir string
}

// NewInboundStore creates the inbound directory if it does not exist.
func NewInboundStore(dir string) (*InboundStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbound directory not set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create inbound directory: %w", err)
	}
	return &InboundStore{dir: dir}, nil
}

// Dir returns the inbound directory path.
func (s *InboundStore) Dir() string {
	return s.dir
}

// Save writes data under a collision-free name derived from filename and
// returns the path actually written. Path components in filename are
// stripped; a peer cannot steer writes outside the inbound directory.
func (s *InboundStore) Save(filename string, data []byte) (string, error) {
	base := filepath.Base(filepath.Clean(filename))
	if base == "." || base == string(filepath.Separator) || base == ".." || base == "" {
		base = "unnamed"
	}

	path := filepath.Join(s.dir, base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write inbound file: %w", err)
	}
	return path, nil
}
