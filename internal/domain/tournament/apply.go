package tournament

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// applyChanges copies the changed files from the winning worktree into the
// main tree, creating parent directories as needed. A file the winner
// deleted is deleted from the main tree too. Only the listed files are
// touched.
func applyChanges(worktree, mainTree string, changedFiles []string) error {
	for _, rel := range changedFiles {
		src := filepath.Join(worktree, rel)
		dst := filepath.Join(mainTree, rel)

		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			if rmErr := os.Remove(dst); rmErr != nil && !os.IsNotExist(rmErr) {
				return fmt.Errorf("remove %s: %w", rel, rmErr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.IsDir() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := copyFile(src, dst, info.Mode()); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
