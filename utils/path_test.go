package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestIsPathWithin(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "a", "b.jpg")
	outside := filepath.Join(filepath.Dir(root), "outside.jpg")

	if !IsPathWithin(child, []string{root}) {
		t.Fatalf("expected %s to be within %s", child, root)
	}
	if IsPathWithin(outside, []string{root}) {
		t.Fatalf("did not expect %s to be within %s", outside, root)
	}
}

func TestIsPathWithinFollowsLinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "secret.png")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	link := filepath.Join(root, "innocent.png")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if IsPathWithin(link, []string{root}) {
		t.Fatal("a link pointing outside the root must not count as within")
	}
}

func TestSameDir(t *testing.T) {
	root := t.TempDir()
	if !SameDir(root, filepath.Join(root, ".")) {
		t.Fatal("expected same directory")
	}
	if SameDir(root, t.TempDir()) {
		t.Fatal("different temp dirs are not the same")
	}
}
