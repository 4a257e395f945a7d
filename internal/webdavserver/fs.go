package webdavserver

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/net/webdav"

	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/fsutil"
)

// JailFS adapts the sandboxed share root to webdav.FileSystem with the
// account's capability checks applied per operation.
type JailFS struct {
	sb   *fsutil.Sandbox
	user db.User
}

// NewJailFS creates a WebDAV filesystem for one authenticated account.
func NewJailFS(sb *fsutil.Sandbox, user db.User) *JailFS {
	return &JailFS{sb: sb, user: user}
}

func (fs *JailFS) resolve(name string) (fsutil.SandboxedPath, error) {
	return fs.sb.Resolve(name)
}

func (fs *JailFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if !fs.user.CanUpload {
		return os.ErrPermission
	}
	sp, err := fs.resolve(name)
	if err != nil {
		return err
	}
	return os.Mkdir(sp.Abs(), perm)
}

func (fs *JailFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	sp, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	p := sp.Abs()

	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	if writing {
		if !fs.user.CanUpload {
			return nil, os.ErrPermission
		}
		if flag&os.O_CREATE != 0 {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, err
			}
		}
	} else {
		// PROPFIND opens directories read-only; that stays open to all.
		// Reading file bytes needs the download capability.
		if st, err := os.Stat(p); err == nil && !st.IsDir() && !fs.user.CanDownload {
			return nil, os.ErrPermission
		}
	}

	f, err := os.OpenFile(p, flag, perm)
	if err != nil {
		return nil, err
	}
	return &davFile{File: f, sb: fs.sb}, nil
}

func (fs *JailFS) RemoveAll(ctx context.Context, name string) error {
	if !fs.user.CanDelete {
		return os.ErrPermission
	}
	sp, err := fs.resolve(name)
	if err != nil {
		return err
	}
	// Safety: refuse to delete root
	if sp.IsRoot() {
		return os.ErrPermission
	}
	return os.RemoveAll(sp.Abs())
}

func (fs *JailFS) Rename(ctx context.Context, oldName, newName string) error {
	if !fs.user.CanUpload {
		return os.ErrPermission
	}
	oldSP, err := fs.resolve(oldName)
	if err != nil {
		return err
	}
	newSP, err := fs.resolve(newName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newSP.Abs()), 0o755); err != nil {
		return err
	}
	return os.Rename(oldSP.Abs(), newSP.Abs())
}

func (fs *JailFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	sp, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(sp.Abs())
}

var _ webdav.FileSystem = (*JailFS)(nil)

// davFile hides reserved names from directory listings.
type davFile struct {
	*os.File
	sb *fsutil.Sandbox
}

func (f *davFile) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	out := infos[:0]
	for _, fi := range infos {
		if f.sb.IsForbiddenName(fi.Name()) {
			continue
		}
		out = append(out, fi)
	}
	return out, err
}
