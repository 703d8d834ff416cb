package tournament

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyChanges_CopiesListedFilesOnly(t *testing.T) {
	worktree := t.TempDir()
	mainTree := t.TempDir()

	writeFile(t, worktree, "src/a.ts", "winner a")
	writeFile(t, worktree, "src/deep/b.ts", "winner b")
	writeFile(t, worktree, "untouched.ts", "should not be copied")
	writeFile(t, mainTree, "src/a.ts", "old a")

	err := applyChanges(worktree, mainTree, []string{"src/a.ts", "src/deep/b.ts"})
	if err != nil {
		t.Fatal(err)
	}

	if got := readFile(t, mainTree, "src/a.ts"); got != "winner a" {
		t.Fatalf("a.ts = %q", got)
	}
	if got := readFile(t, mainTree, "src/deep/b.ts"); got != "winner b" {
		t.Fatalf("parent dirs must be created, b.ts = %q", got)
	}
	if _, err := os.Stat(filepath.Join(mainTree, "untouched.ts")); !os.IsNotExist(err) {
		t.Fatal("unlisted files must not be copied")
	}
}

func TestApplyChanges_DeletesRemovedFiles(t *testing.T) {
	worktree := t.TempDir()
	mainTree := t.TempDir()
	writeFile(t, mainTree, "gone.ts", "old")

	if err := applyChanges(worktree, mainTree, []string{"gone.ts"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(mainTree, "gone.ts")); !os.IsNotExist(err) {
		t.Fatal("file deleted in the worktree must be deleted in the main tree")
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
