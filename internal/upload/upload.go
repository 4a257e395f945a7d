// Package upload stores incoming files atomically with collision-free
// naming.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/8gudbits/QuickServe/internal/catalog"
	"github.com/8gudbits/QuickServe/internal/fsutil"
)

var (
	ErrTooLarge    = errors.New("upload exceeds size limit")
	ErrBadFilename = errors.New("invalid file name")
	ErrNotDir      = errors.New("upload target is not a directory")
)

// Service streams uploads to a temp file in the target directory and
// renames into place. A reservation table keeps concurrent uploads of
// the same name from racing to one final name: the name is claimed
// before any bytes land and released once the rename (or the failure
// cleanup) makes the claim visible on disk.
type Service struct {
	Sandbox *fsutil.Sandbox

	mu      sync.Mutex
	pending map[string]map[string]struct{} // dir abs -> reserved names
}

func NewService(sb *fsutil.Sandbox) *Service {
	return &Service{
		Sandbox: sb,
		pending: make(map[string]map[string]struct{}),
	}
}

// Store writes r into dir under filename, deduplicating the name
// ("report.txt" -> "report (1).txt") against both disk state and
// in-flight uploads. maxBytes of 0 means unlimited. On any failure the
// temp file is removed; a partial file is never visible under the
// final name. The returned entry carries the name actually used.
func (s *Service) Store(ctx context.Context, dir fsutil.SandboxedPath, filename string, r io.Reader, maxBytes int64) (catalog.Entry, error) {
	base, err := s.cleanName(filename)
	if err != nil {
		return catalog.Entry{}, err
	}
	st, err := os.Stat(dir.Abs())
	if err != nil {
		return catalog.Entry{}, err
	}
	if !st.IsDir() {
		return catalog.Entry{}, ErrNotDir
	}

	final, err := s.reserve(dir.Abs(), base)
	if err != nil {
		return catalog.Entry{}, err
	}

	tmp, err := os.CreateTemp(dir.Abs(), ".upload-*")
	if err != nil {
		s.release(dir.Abs(), final)
		return catalog.Entry{}, err
	}
	tmpName := tmp.Name()
	done := false
	defer func() {
		if !done {
			_ = os.Remove(tmpName)
			s.release(dir.Abs(), final)
		}
	}()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := fsutil.CopyContext(ctx, tmp, src)
	if err != nil {
		_ = tmp.Close()
		return catalog.Entry{}, err
	}
	if maxBytes > 0 && n > maxBytes {
		_ = tmp.Close()
		return catalog.Entry{}, ErrTooLarge
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return catalog.Entry{}, err
	}
	if err := tmp.Close(); err != nil {
		return catalog.Entry{}, err
	}

	finalAbs := filepath.Join(dir.Abs(), final)
	if err := os.Rename(tmpName, finalAbs); err != nil {
		return catalog.Entry{}, err
	}
	done = true
	// The name now exists on disk, so the reservation can go.
	s.release(dir.Abs(), final)

	info, err := os.Stat(finalAbs)
	if err != nil {
		return catalog.Entry{}, err
	}
	return catalog.NewEntry(final, path.Join(dir.Rel(), final), info), nil
}

// cleanName flattens a client-supplied filename to a bare name and
// rejects unusable ones. Hidden names are refused because listings
// would never show the result.
func (s *Service) cleanName(filename string) (string, error) {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", ErrBadFilename
	}
	if s.Sandbox.IsForbiddenName(name) {
		return "", fsutil.ErrNameForbidden
	}
	return name, nil
}

// reserve claims a collision-free final name for a directory.
func (s *Service) reserve(dirAbs, base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.pending[dirAbs]
	if set == nil {
		set = make(map[string]struct{})
		s.pending[dirAbs] = set
	}
	for n := 0; ; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		if _, taken := set[name]; taken {
			continue
		}
		_, err := os.Lstat(filepath.Join(dirAbs, name))
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		set[name] = struct{}{}
		return name, nil
	}
}

func (s *Service) release(dirAbs, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.pending[dirAbs]; set != nil {
		delete(set, name)
		if len(set) == 0 {
			delete(s.pending, dirAbs)
		}
	}
}

