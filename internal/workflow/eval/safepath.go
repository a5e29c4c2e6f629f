package eval

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// safePath resolves p against e.workspaceRoot, rejecting absolute paths and
// any ".." traversal that would escape the root.
func (e *Evaluator) safePath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", p)
	}
	cleaned := filepath.Clean(filepath.Join(e.workspaceRoot, p))
	root := filepath.Clean(e.workspaceRoot)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace root: %q", p)
	}
	return cleaned, nil
}

func afExists(fs afero.Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}
