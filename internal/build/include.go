package build

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"golang.org/x/mod/modfile"
)

// moduleRoot returns the directory of the nearest go.mod at or above dir
// and the module path it declares. Both are empty when there is none.
func moduleRoot(dir string) (string, string) {
	for {
		data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil {
			return dir, modfile.ModulePath(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ""
		}
		dir = parent
	}
}

// resolveInclude locates the file referenced by an include block: against
// the module root first, then against the directory of the host file.
func resolveInclude(path, modRoot, hostDir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, exists(path)
	}
	var candidates []string
	if modRoot != "" {
		candidates = append(candidates, filepath.Join(modRoot, path))
	}
	candidates = append(candidates, filepath.Join(hostDir, path))

	var errs error
	for _, c := range candidates {
		err := exists(c)
		if err == nil {
			return c, nil
		}
		errs = multierr.Append(errs, err)
	}
	return "", errs
}

func exists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "include", Path: path, Err: errors.New("is a directory")}
	}
	return nil
}
