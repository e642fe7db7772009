package table

import (
	"os"
	"strings"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

// SplitPaths parses a spill path spec: several directories separated by comma
// or colon. An empty spec resolves to the system temp dir.
func SplitPaths(spec string) []string {
	parts := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ':'
	})
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	if len(res) == 0 {
		res = append(res, os.TempDir())
	}
	return res
}

// IOManager owns the temp spill directories a write session stages data files
// in before upload. Directories live until Close.
type IOManager struct {
	dirs []string
	next int
}

func NewIOManager(pathSpec string) (*IOManager, error) {
	roots := SplitPaths(pathSpec)
	dirs := make([]string, 0, len(roots))
	for _, root := range roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, xerrors.Errorf("unable to create spill root: %s: %w", root, err)
		}
		dir, err := os.MkdirTemp(root, "lakesink-spill-")
		if err != nil {
			return nil, xerrors.Errorf("unable to create spill dir under: %s: %w", root, err)
		}
		dirs = append(dirs, dir)
	}
	return &IOManager{dirs: dirs, next: 0}, nil
}

// AllocateDir picks a spill dir round-robin.
func (m *IOManager) AllocateDir() string {
	dir := m.dirs[m.next%len(m.dirs)]
	m.next++
	return dir
}

func (m *IOManager) Close() error {
	var firstErr error
	for _, dir := range m.dirs {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = xerrors.Errorf("unable to remove spill dir: %s: %w", dir, err)
		}
	}
	return firstErr
}
