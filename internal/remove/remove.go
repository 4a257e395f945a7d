// Package remove deletes files and folders, directly or via a trash
// directory under the serve root.
package remove

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/8gudbits/QuickServe/internal/fsutil"
)

var ErrRootDeletion = errors.New("the serve root cannot be deleted")

// ItemError records one item that survived a best-effort tree removal.
type ItemError struct {
	Path string // root-relative
	Err  error
}

// Result reports what a deletion accomplished. Failed is non-empty when
// parts of a tree could not be removed; the rest was still deleted.
type Result struct {
	Deleted int
	Failed  []ItemError
}

// Service deletes sandboxed paths. With TrashDir set, targets are moved
// into <root>/<TrashDir>/<id>/<original rel path> instead of being
// removed; the trash directory is expected to also be a reserved name so
// it stays invisible and unaddressable.
type Service struct {
	Sandbox  *fsutil.Sandbox
	TrashDir string // empty means direct deletion
}

func NewService(sb *fsutil.Sandbox, trashDir string) *Service {
	return &Service{Sandbox: sb, TrashDir: trashDir}
}

// Delete removes sp. Missing targets surface as the Lstat error so
// callers can map them to not-found. Trash mode is a single atomic
// rename; a cross-device rename falls back to direct removal for that
// call.
func (s *Service) Delete(ctx context.Context, sp fsutil.SandboxedPath) (Result, error) {
	if sp.IsRoot() {
		return Result{}, ErrRootDeletion
	}
	st, err := os.Lstat(sp.Abs())
	if err != nil {
		return Result{}, err
	}

	if s.TrashDir != "" {
		err := s.moveToTrash(sp)
		if err == nil {
			return Result{Deleted: 1}, nil
		}
		if !errors.Is(err, syscall.EXDEV) {
			return Result{}, err
		}
	}

	if !st.IsDir() {
		if err := os.Remove(sp.Abs()); err != nil {
			return Result{}, err
		}
		return Result{Deleted: 1}, nil
	}
	return s.deleteTree(ctx, sp)
}

// deleteTree removes a directory iteratively, files first, then the
// directories deepest-first. Failures are recorded and skipped so the
// rest of the tree still goes away.
func (s *Service) deleteTree(ctx context.Context, sp fsutil.SandboxedPath) (Result, error) {
	type node struct {
		abs string
		rel string
	}
	var res Result
	failed := make(map[string]struct{})
	fail := func(n node, err error) {
		if _, ok := failed[n.rel]; ok {
			return
		}
		failed[n.rel] = struct{}{}
		res.Failed = append(res.Failed, ItemError{Path: n.rel, Err: err})
	}

	dirs := []node{{abs: sp.Abs(), rel: sp.Rel()}}
	for i := 0; i < len(dirs); i++ {
		d := dirs[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ents, err := os.ReadDir(d.abs)
		if err != nil {
			fail(d, err)
			continue
		}
		for _, e := range ents {
			child := node{abs: filepath.Join(d.abs, e.Name()), rel: path.Join(d.rel, e.Name())}
			if e.IsDir() {
				dirs = append(dirs, child)
				continue
			}
			if err := os.Remove(child.abs); err != nil {
				fail(child, err)
				continue
			}
			res.Deleted++
		}
	}

	// Children were appended after their parents, so the reverse order
	// empties directories before their parents are removed.
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := failed[d.rel]; ok {
			continue
		}
		if err := os.Remove(d.abs); err != nil {
			fail(d, err)
			continue
		}
		res.Deleted++
	}
	return res, nil
}

// moveToTrash renames sp into <root>/<TrashDir>/<id>/<rel>, retrying
// with a fresh id on the unlikely collision.
func (s *Service) moveToTrash(sp fsutil.SandboxedPath) error {
	base := filepath.Join(s.Sandbox.Root(), s.TrashDir)
	rel := filepath.FromSlash(sp.Rel())

	for i := 0; i < 5; i++ {
		dst := filepath.Join(base, trashID(), rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(sp.Abs(), dst); err != nil {
			if os.IsExist(err) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("move to trash: too many name collisions")
}

func trashID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return time.Now().UTC().Format("20060102T150405Z") + "-" + hex.EncodeToString(buf)
}
