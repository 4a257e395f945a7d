package jailfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/fsutil"
)

func testFS(t *testing.T, u db.User) (*FS, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := fsutil.NewSandbox(root, []string{"quickserve.db", ".recycle"})
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	return New(sb, u), root
}

func TestOpenFileReadNeedsDownload(t *testing.T) {
	f, root := testFS(t, db.User{})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	if _, err := f.Open("/a.txt"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("open file err=%v", err)
	}

	// Listings stay available to every account.
	d, err := f.Open("/")
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	defer d.Close()
	if _, err := d.Readdirnames(-1); err != nil {
		t.Fatalf("readdirnames: %v", err)
	}
}

func TestOpenFileReadAllowed(t *testing.T) {
	f, root := testFS(t, db.User{CanDownload: true})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	file, err := f.Open("/a.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	buf := make([]byte, 5)
	if _, err := file.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("content=%q", buf)
	}
}

func TestWritesNeedUpload(t *testing.T) {
	f, _ := testFS(t, db.User{CanDownload: true})

	if _, err := f.Create("/new.txt"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("create err=%v", err)
	}
	if err := f.Mkdir("/dir", 0o755); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("mkdir err=%v", err)
	}
	if _, err := f.OpenFile("/new.txt", os.O_WRONLY|os.O_CREATE, 0o644); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("openfile err=%v", err)
	}
	if err := f.Rename("/a", "/b"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("rename err=%v", err)
	}
}

func TestCreateMakesParents(t *testing.T) {
	f, root := testFS(t, db.User{CanUpload: true})

	file, err := f.Create("/deep/nested/file.txt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := file.WriteString("data"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "deep", "nested", "file.txt")); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestRemoveNeedsDelete(t *testing.T) {
	f, root := testFS(t, db.User{CanUpload: true, CanDownload: true})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	if err := f.Remove("/a.txt"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("remove err=%v", err)
	}
	if err := f.RemoveAll("/a.txt"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("removeall err=%v", err)
	}
}

func TestRemoveAllRefusesRoot(t *testing.T) {
	f, root := testFS(t, db.User{CanDelete: true})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	if err := f.RemoveAll("/"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("removeall root err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("root content deleted: %v", err)
	}
}

func TestEscapeRejected(t *testing.T) {
	f, _ := testFS(t, db.User{CanDownload: true, CanUpload: true, CanDelete: true})

	if _, err := f.Open("/../escape"); !errors.Is(err, fsutil.ErrPathTraversal) {
		t.Fatalf("open err=%v", err)
	}
	if err := f.Remove("/../escape"); !errors.Is(err, fsutil.ErrPathTraversal) {
		t.Fatalf("remove err=%v", err)
	}
}

func TestReservedNamesHidden(t *testing.T) {
	f, root := testFS(t, db.User{CanDownload: true})
	if err := os.WriteFile(filepath.Join(root, "quickserve.db"), []byte("db"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	// Not resolvable directly.
	if _, err := f.Open("/quickserve.db"); !errors.Is(err, fsutil.ErrNameForbidden) {
		t.Fatalf("open reserved err=%v", err)
	}

	// Not listed either.
	d, err := f.Open("/")
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	defer d.Close()
	names, err := d.Readdirnames(-1)
	if err != nil {
		t.Fatalf("readdirnames: %v", err)
	}
	for _, n := range names {
		if n == "quickserve.db" {
			t.Fatalf("reserved name listed: %v", names)
		}
	}
	if len(names) != 1 || names[0] != "visible.txt" {
		t.Fatalf("names=%v", names)
	}
}
