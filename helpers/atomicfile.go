package helpers

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic renders content through write and moves it into place with
// a single rename, so readers see either the old file or the complete new one.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
