// Package jailfs exposes the share root as an afero filesystem jailed to
// the sandbox, with per-operation capability checks for a logged-in
// account. The FTP server mounts one instance per session.
package jailfs

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/fsutil"
)

type FS struct {
	sb   *fsutil.Sandbox
	user db.User
	osfs afero.Fs
}

// New jails osfs operations to the sandbox root. Capabilities are
// snapshotted from the account at session start.
func New(sb *fsutil.Sandbox, user db.User) *FS {
	return &FS{sb: sb, user: user, osfs: afero.NewOsFs()}
}

func (f *FS) Create(name string) (afero.File, error) {
	if !f.user.CanUpload {
		return nil, deny("create", name)
	}
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return f.osfs.Create(p)
}

func (f *FS) Mkdir(name string, perm os.FileMode) error {
	if !f.user.CanUpload {
		return deny("mkdir", name)
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Mkdir(p, perm)
}

func (f *FS) MkdirAll(path string, perm os.FileMode) error {
	if !f.user.CanUpload {
		return deny("mkdir", path)
	}
	p, err := f.local(path)
	if err != nil {
		return err
	}
	return f.osfs.MkdirAll(p, perm)
}

// Open serves both directory listings and file reads. Listing is always
// allowed; reading file bytes needs the download capability.
func (f *FS) Open(name string) (afero.File, error) {
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	st, err := f.osfs.Stat(p)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() && !f.user.CanDownload {
		return nil, deny("open", name)
	}
	file, err := f.osfs.Open(p)
	if err != nil {
		return nil, err
	}
	return &jailFile{File: file, sb: f.sb}, nil
}

func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	if writing && !f.user.CanUpload {
		return nil, deny("open", name)
	}
	if !writing && !f.user.CanDownload {
		return nil, deny("open", name)
	}
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	}
	file, err := f.osfs.OpenFile(p, flag, perm)
	if err != nil {
		return nil, err
	}
	return &jailFile{File: file, sb: f.sb}, nil
}

func (f *FS) Remove(name string) error {
	if !f.user.CanDelete {
		return deny("remove", name)
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Remove(p)
}

func (f *FS) RemoveAll(path string) error {
	if !f.user.CanDelete {
		return deny("remove", path)
	}
	p, err := f.local(path)
	if err != nil {
		return err
	}
	if sp, rerr := f.sb.Resolve(path); rerr == nil && sp.IsRoot() {
		return deny("remove", path)
	}
	return f.osfs.RemoveAll(p)
}

func (f *FS) Rename(oldname, newname string) error {
	if !f.user.CanUpload {
		return deny("rename", oldname)
	}
	oldp, err := f.local(oldname)
	if err != nil {
		return err
	}
	newp, err := f.local(newname)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newp), 0o755); err != nil {
		return err
	}
	return f.osfs.Rename(oldp, newp)
}

func (f *FS) Stat(name string) (os.FileInfo, error) {
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	return f.osfs.Stat(p)
}

func (f *FS) Name() string { return "jailfs" }

func (f *FS) Chmod(name string, mode os.FileMode) error {
	if !f.user.CanUpload {
		return deny("chmod", name)
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Chmod(p, mode)
}

func (f *FS) Chown(name string, uid, gid int) error {
	_ = name
	_ = uid
	_ = gid
	return errors.New("chown not supported")
}

func (f *FS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	if !f.user.CanUpload {
		return deny("chtimes", name)
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Chtimes(p, atime, mtime)
}

func (f *FS) local(name string) (string, error) {
	sp, err := f.sb.Resolve(name)
	if err != nil {
		return "", err
	}
	return sp.Abs(), nil
}

func deny(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
}

// jailFile hides reserved names from directory listings.
type jailFile struct {
	afero.File
	sb *fsutil.Sandbox
}

func (f *jailFile) Readdir(count int) ([]os.FileInfo, error) {
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

func (f *jailFile) Readdirnames(n int) ([]string, error) {
	names, err := f.File.Readdirnames(n)
	out := names[:0]
	for _, name := range names {
		if f.sb.IsForbiddenName(name) {
			continue
		}
		out = append(out, name)
	}
	return out, err
}
