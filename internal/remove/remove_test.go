package remove

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/8gudbits/QuickServe/internal/fsutil"
)

func testService(t *testing.T, trashDir string) *Service {
	t.Helper()
	sb, err := fsutil.NewSandbox(t.TempDir(), []string{".recycle"})
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	return NewService(sb, trashDir)
}

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func mustResolve(t *testing.T, s *Service, rel string) fsutil.SandboxedPath {
	t.Helper()
	sp, err := s.Sandbox.Resolve(rel)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", rel, err)
	}
	return sp
}

func TestDeleteFile(t *testing.T) {
	s := testService(t, "")
	writeFile(t, s.Sandbox.Root(), "old.txt")

	res, err := s.Delete(context.Background(), mustResolve(t, s, "old.txt"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Deleted != 1 || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Lstat(filepath.Join(s.Sandbox.Root(), "old.txt")); !os.IsNotExist(err) {
		t.Fatalf("file still there: %v", err)
	}
}

func TestDeleteTree(t *testing.T) {
	s := testService(t, "")
	root := s.Sandbox.Root()
	writeFile(t, root, "docs/a.txt")
	writeFile(t, root, "docs/sub/b.txt")
	writeFile(t, root, "docs/sub/c.txt")

	res, err := s.Delete(context.Background(), mustResolve(t, s, "docs"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// 3 files + 2 directories.
	if res.Deleted != 5 || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Lstat(filepath.Join(root, "docs")); !os.IsNotExist(err) {
		t.Fatalf("tree still there: %v", err)
	}
}

func TestDeleteMissing(t *testing.T) {
	s := testService(t, "")
	if _, err := s.Delete(context.Background(), mustResolve(t, s, "nope.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestDeleteRoot(t *testing.T) {
	s := testService(t, "")
	if _, err := s.Delete(context.Background(), mustResolve(t, s, "")); !errors.Is(err, ErrRootDeletion) {
		t.Fatalf("expected ErrRootDeletion, got %v", err)
	}
}

// TestDeleteBestEffort keeps going when part of the tree cannot be
// removed and reports the survivors.
func TestDeleteBestEffort(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission failures are not enforceable as root")
	}
	s := testService(t, "")
	root := s.Sandbox.Root()
	writeFile(t, root, "top/ok/g.txt")
	writeFile(t, root, "top/locked/f.txt")
	locked := filepath.Join(root, "top", "locked")
	if err := os.Chmod(locked, 0o555); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res, err := s.Delete(context.Background(), mustResolve(t, s, "top"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// g.txt and ok/ went away.
	if res.Deleted != 2 {
		t.Fatalf("Deleted = %d, want 2 (%+v)", res.Deleted, res)
	}
	// f.txt, locked/ and top/ survive.
	if len(res.Failed) != 3 {
		t.Fatalf("Failed = %+v", res.Failed)
	}
	for _, f := range res.Failed {
		if f.Path == "" || f.Err == nil {
			t.Fatalf("incomplete item error: %+v", f)
		}
	}
	if _, err := os.Lstat(filepath.Join(locked, "f.txt")); err != nil {
		t.Fatalf("survivor missing: %v", err)
	}
}

func TestDeleteTrashFile(t *testing.T) {
	s := testService(t, ".recycle")
	root := s.Sandbox.Root()
	writeFile(t, root, "docs/a.txt")

	res, err := s.Delete(context.Background(), mustResolve(t, s, "docs/a.txt"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Deleted != 1 || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Lstat(filepath.Join(root, "docs", "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("original still there: %v", err)
	}
	m, err := filepath.Glob(filepath.Join(root, ".recycle", "*", "docs", "a.txt"))
	if err != nil || len(m) != 1 {
		t.Fatalf("trash copies = %v, %v", m, err)
	}
	// The trash stays unaddressable through the sandbox.
	if _, err := s.Sandbox.Resolve(".recycle"); !errors.Is(err, fsutil.ErrNameForbidden) {
		t.Fatalf("expected ErrNameForbidden, got %v", err)
	}
}

// TestDeleteTrashTree moves whole folders in one rename, keeping their
// structure.
func TestDeleteTrashTree(t *testing.T) {
	s := testService(t, ".recycle")
	root := s.Sandbox.Root()
	writeFile(t, root, "docs/sub/b.txt")

	res, err := s.Delete(context.Background(), mustResolve(t, s, "docs"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	m, err := filepath.Glob(filepath.Join(root, ".recycle", "*", "docs", "sub", "b.txt"))
	if err != nil || len(m) != 1 {
		t.Fatalf("trash copies = %v, %v", m, err)
	}
}
