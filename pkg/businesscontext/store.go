package businesscontext

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// FileName is the document persisted inside each workspace directory.
const FileName = "business-context.json"

// Path returns the location of the persisted context for a workspace.
func Path(workspaceDir string) string {
	return filepath.Join(workspaceDir, FileName)
}

// Load reads the persisted context of a workspace. It returns nil without
// error when nothing has been persisted yet, including when the workspace
// path is not a directory.
func Load(workspaceDir string) (*BusinessContext, error) {
	data, err := os.ReadFile(Path(workspaceDir))
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read business context: %w", err)
	}
	var bc BusinessContext
	if err := json.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Path(workspaceDir), err)
	}
	bc.normalize()
	return &bc, nil
}

// Save writes the context atomically: a temp file in the same directory
// is renamed over the previous document.
func Save(workspaceDir string, bc *BusinessContext) error {
	data, err := json.MarshalIndent(bc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode business context: %w", err)
	}
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	tmp, err := os.CreateTemp(workspaceDir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write business context: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), Path(workspaceDir)); err != nil {
		return fmt.Errorf("replace business context: %w", err)
	}
	return nil
}
