// Package archive streams zip downloads of files and folders.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/8gudbits/QuickServe/internal/fsutil"
)

var ErrNoSelection = errors.New("no items selected")

// Builder streams zip archives of sandbox selections. The archive is
// written straight to w; nothing is buffered, so errors after the first
// byte can only surface as a truncated stream.
type Builder struct {
	Sandbox *fsutil.Sandbox
}

func NewBuilder(sb *fsutil.Sandbox) *Builder {
	return &Builder{Sandbox: sb}
}

type member struct {
	base string // symlink-resolved absolute path
	info os.FileInfo
	top  string // archive name of this selection
}

// BuildZip validates every selection, then streams a zip archive to w.
// Entry names mirror the selection: a selected file sits at the top
// level under its own name, a selected directory contributes its whole
// subtree. Colliding top-level names count up ("x.txt", "x (1).txt");
// overlapping selections produce each file once.
//
// Validation failures happen before the first byte is written. Once
// streaming began, any error aborts the archive without the closing
// central directory, so clients see a broken zip rather than a silently
// incomplete one.
func (b *Builder) BuildZip(ctx context.Context, w io.Writer, selections []fsutil.SandboxedPath) error {
	if len(selections) == 0 {
		return ErrNoSelection
	}

	members := make([]member, 0, len(selections))
	picked := make(map[string]struct{}, len(selections))
	used := make(map[string]int)
	for _, sp := range selections {
		info, err := os.Stat(sp.Abs())
		if err != nil {
			return err
		}
		base, err := filepath.EvalSymlinks(sp.Abs())
		if err != nil {
			return err
		}
		if _, ok := picked[base]; ok {
			continue
		}
		picked[base] = struct{}{}
		top := sp.Base()
		if top == "" {
			top = "files"
		}
		members = append(members, member{base: base, info: info, top: uniqueTop(used, top)})
	}

	zw := zip.NewWriter(w)
	seen := make(map[string]struct{})
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.info.IsDir() {
			if err := b.addTree(ctx, zw, m.base, m.top, seen); err != nil {
				return err
			}
			continue
		}
		if _, ok := seen[m.base]; ok {
			continue
		}
		seen[m.base] = struct{}{}
		if err := addFile(ctx, zw, m.base, m.top, m.info); err != nil {
			return err
		}
	}
	return zw.Close()
}

// addTree walks a directory iteratively and writes its subtree under
// prefix. Symlinked directories are not descended and non-regular
// entries are skipped, so the walk cannot leave the validated base.
func (b *Builder) addTree(ctx context.Context, zw *zip.Writer, baseAbs, prefix string, seen map[string]struct{}) error {
	type node struct {
		abs  string
		name string // zip path, forward slashes, no trailing slash
	}
	stack := []node{{abs: baseAbs, name: prefix}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := ctx.Err(); err != nil {
			return err
		}

		ents, err := os.ReadDir(n.abs)
		if err != nil {
			return err
		}
		var dirs []node
		wrote := 0
		for _, e := range ents {
			name := e.Name()
			if strings.HasPrefix(name, ".") || b.Sandbox.IsForbiddenName(name) {
				continue
			}
			switch {
			case e.IsDir() && e.Type()&fs.ModeSymlink == 0:
				dirs = append(dirs, node{abs: filepath.Join(n.abs, name), name: n.name + "/" + name})
				wrote++
			case e.Type().IsRegular():
				abs := filepath.Join(n.abs, name)
				if _, ok := seen[abs]; ok {
					continue
				}
				seen[abs] = struct{}{}
				info, err := e.Info()
				if err != nil {
					return err
				}
				if err := addFile(ctx, zw, abs, n.name+"/"+name, info); err != nil {
					return err
				}
				wrote++
			}
		}
		if wrote == 0 {
			hdr := &zip.FileHeader{Name: n.name + "/", Method: zip.Store}
			if _, err := zw.CreateHeader(hdr); err != nil {
				return err
			}
			continue
		}
		// Push reversed so the stack pops children in directory order.
		for i := len(dirs) - 1; i >= 0; i-- {
			stack = append(stack, dirs[i])
		}
	}
	return nil
}

func addFile(ctx context.Context, zw *zip.Writer, abs, name string, info os.FileInfo) error {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fsutil.CopyContext(ctx, fw, f)
	return err
}

// uniqueTop hands out a collision-free top-level archive name.
func uniqueTop(used map[string]int, base string) string {
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}
