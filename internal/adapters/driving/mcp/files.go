package mcp

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// maxPlanFileSize bounds documents read by path.
const maxPlanFileSize = 64 << 20

// readPlanFile reads path from the file root. Relative paths are taken from
// the root; anything that resolves outside it, symlinks included, is an
// invalid argument.
func (s *Server) readPlanFile(path string) ([]byte, error) {
	if s.fileRoot == "" {
		return nil, fmt.Errorf("%w: path uploads are disabled, start the server with --root or send text or content_base64",
			domain.ErrInvalidArgument)
	}

	rel := filepath.Clean(path)
	if filepath.IsAbs(rel) {
		if real, err := filepath.EvalSymlinks(rel); err == nil {
			rel = real
		}
		var err error
		if rel, err = filepath.Rel(s.fileRoot, rel); err != nil {
			return nil, fmt.Errorf("%w: %s is outside %s", domain.ErrInvalidArgument, path, s.fileRoot)
		}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s is outside %s", domain.ErrInvalidArgument, path, s.fileRoot)
	}

	root, err := os.OpenRoot(s.fileRoot)
	if err != nil {
		return nil, fmt.Errorf("open file root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPlanFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, path, err)
	}
	if len(data) > maxPlanFileSize {
		return nil, fmt.Errorf("%w: %s is larger than %d MiB", domain.ErrInvalidArgument, path, maxPlanFileSize>>20)
	}
	return data, nil
}
