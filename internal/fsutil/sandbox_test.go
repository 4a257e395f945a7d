// Package fsutil tests validate path traversal protections.
package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestSandbox(t *testing.T, forbidden ...string) (*Sandbox, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewSandbox(root, forbidden)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	return s, s.Root()
}

// TestResolveRejectsTraversal blocks obvious .. escapes.
func TestResolveRejectsTraversal(t *testing.T) {
	s, _ := newTestSandbox(t)
	for _, raw := range []string{"../etc/passwd", "/../etc/passwd", "a/../../b", `..\..\x`} {
		if _, err := s.Resolve(raw); !errors.Is(err, ErrPathTraversal) {
			t.Fatalf("Resolve(%q): expected ErrPathTraversal, got %v", raw, err)
		}
	}
}

// TestResolveRejectsDrivePrefix blocks Windows drive-style inputs.
func TestResolveRejectsDrivePrefix(t *testing.T) {
	s, _ := newTestSandbox(t)
	if _, err := s.Resolve(`C:\Windows\system32`); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected drive prefix to be rejected, got %v", err)
	}
}

// TestResolveRootForms maps empty and slash inputs to the root.
func TestResolveRootForms(t *testing.T) {
	s, root := newTestSandbox(t)
	for _, raw := range []string{"", "/", "///", "."} {
		sp, err := s.Resolve(raw)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", raw, err)
		}
		if !sp.IsRoot() || sp.Abs() != root || sp.Rel() != "" {
			t.Fatalf("Resolve(%q) = %+v, want root", raw, sp)
		}
	}
}

// TestResolveNormalizesSeparators accepts both slash styles.
func TestResolveNormalizesSeparators(t *testing.T) {
	s, root := newTestSandbox(t)
	sp, err := s.Resolve(`docs\sub/report.txt`)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sp.Rel() != "docs/sub/report.txt" {
		t.Fatalf("unexpected rel %q", sp.Rel())
	}
	if sp.Abs() != filepath.Join(root, "docs", "sub", "report.txt") {
		t.Fatalf("unexpected abs %q", sp.Abs())
	}
	if sp.Base() != "report.txt" {
		t.Fatalf("unexpected base %q", sp.Base())
	}
}

// TestResolveRejectsForbiddenNames hides server artifacts at any depth.
func TestResolveRejectsForbiddenNames(t *testing.T) {
	s, _ := newTestSandbox(t, "quickserve.db", ".recycle")
	for _, raw := range []string{"quickserve.db", "QUICKSERVE.DB", ".recycle/x", "sub/.Recycle/y"} {
		if _, err := s.Resolve(raw); !errors.Is(err, ErrNameForbidden) {
			t.Fatalf("Resolve(%q): expected ErrNameForbidden, got %v", raw, err)
		}
	}
	// Prefixes of reserved names stay addressable.
	if _, err := s.Resolve("quickserve.db.bak"); err != nil {
		t.Fatalf("Resolve(prefix): %v", err)
	}
}

// TestResolveRejectsSymlinkEscape blocks symlink-based escapes.
func TestResolveRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		// Symlink creation may require privileges.
		t.Skip("symlink behavior varies on windows")
	}
	s, root := newTestSandbox(t)
	outside := t.TempDir()

	// root/link -> outside
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	if _, err := s.Resolve("link/escape.txt"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected symlink escape to be rejected, got %v", err)
	}
}

// TestResolveAllowsInternalSymlink keeps in-root symlinks usable.
func TestResolveAllowsInternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink behavior varies on windows")
	}
	s, root := newTestSandbox(t)
	if err := os.MkdirAll(filepath.Join(root, "real"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	sp, err := s.Resolve("alias/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sp.Rel() != "alias/file.txt" {
		t.Fatalf("unexpected rel %q", sp.Rel())
	}
}

// TestResolveRejectsSymlinkToForbidden blocks aliasing reserved names.
func TestResolveRejectsSymlinkToForbidden(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink behavior varies on windows")
	}
	s, root := newTestSandbox(t, ".recycle")
	if err := os.MkdirAll(filepath.Join(root, ".recycle"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, ".recycle"), filepath.Join(root, "bin")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if _, err := s.Resolve("bin"); !errors.Is(err, ErrNameForbidden) {
		t.Fatalf("expected forbidden alias to be rejected, got %v", err)
	}
}

// TestChildValidatesNames guards the fast path used by directory walks.
func TestChildValidatesNames(t *testing.T) {
	s, _ := newTestSandbox(t, ".recycle")
	root, err := s.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := root.Child(s, "ok.txt"); err != nil {
		t.Fatalf("Child(ok.txt): %v", err)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := root.Child(s, bad); !errors.Is(err, ErrPathTraversal) {
			t.Fatalf("Child(%q): expected ErrPathTraversal, got %v", bad, err)
		}
	}
	if _, err := root.Child(s, ".recycle"); !errors.Is(err, ErrNameForbidden) {
		t.Fatalf("Child(.recycle): expected ErrNameForbidden, got %v", err)
	}
}
