package genesis

import (
	"os"
	"path/filepath"
)

// OSFileSystem is the production FileSystem backed directly by the local
// disk, used when genesis files are bundled alongside the running process.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFileSystem) Glob(pattern string) ([]string, error) { return filepath.Glob(pattern) }
