// Package catalog lists and searches the serve root.
package catalog

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/8gudbits/QuickServe/internal/fsutil"
)

var (
	ErrNotDir          = errors.New("not a directory")
	ErrPatternTooShort = errors.New("search pattern must be at least 2 characters")
)

// timeLayout is the wire format for modification times (local time).
const timeLayout = "2006-01-02 15:04:05"

// Entry is the wire shape shared by listings, search hits, and uploads.
// Size is omitted for folders.
type Entry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     *int64 `json:"size"`
	Modified string `json:"modified"`
}

// Listing is a non-recursive directory view.
// ParentDir is null at the root.
type Listing struct {
	CurrentDir string  `json:"current_dir"`
	ParentDir  *string `json:"parent_dir"`
	Files      []Entry `json:"files"`
}

// SearchHit is an Entry plus the directory it was found in.
type SearchHit struct {
	Entry
	Directory string `json:"directory"`
}

// SearchResult carries the hits of one search walk.
type SearchResult struct {
	SearchPath string      `json:"search_path"`
	Count      int         `json:"count"`
	Truncated  bool        `json:"truncated"`
	Results    []SearchHit `json:"results"`
}

// Service reads directory state inside a sandbox. All methods are safe
// for concurrent use; nothing is cached.
type Service struct {
	Sandbox *fsutil.Sandbox

	// Walk bounds; zero values use the defaults.
	MaxResults int
	MaxScanned int
}

const (
	defaultMaxResults = 500
	defaultMaxScanned = 200000
)

func NewService(sb *fsutil.Sandbox) *Service {
	return &Service{Sandbox: sb}
}

func (s *Service) maxResults() int {
	if s.MaxResults > 0 {
		return s.MaxResults
	}
	return defaultMaxResults
}

func (s *Service) maxScanned() int {
	if s.MaxScanned > 0 {
		return s.MaxScanned
	}
	return defaultMaxScanned
}

// NewEntry builds the wire entry for a stat result.
func NewEntry(name, rel string, info fs.FileInfo) Entry {
	e := Entry{
		Name:     name,
		Path:     rel,
		Type:     "file",
		Modified: info.ModTime().Format(timeLayout),
	}
	if info.IsDir() {
		e.Type = "folder"
	} else {
		size := info.Size()
		e.Size = &size
	}
	return e
}

// List returns the direct children of a directory, folders first, each
// group ordered case-insensitively. Hidden entries (dot names) and
// reserved names are excluded. Entries that vanish between the readdir
// and the stat are skipped.
func (s *Service) List(ctx context.Context, sp fsutil.SandboxedPath) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	st, err := os.Stat(sp.Abs())
	if err != nil {
		return Listing{}, err
	}
	if !st.IsDir() {
		return Listing{}, ErrNotDir
	}
	ents, err := os.ReadDir(sp.Abs())
	if err != nil {
		return Listing{}, err
	}

	files := make([]Entry, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if isHidden(name) || s.Sandbox.IsForbiddenName(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, NewEntry(name, joinRel(sp.Rel(), name), info))
	}
	sortEntries(files)

	l := Listing{CurrentDir: sp.Rel(), Files: files}
	if !sp.IsRoot() {
		parent := path.Dir(sp.Rel())
		if parent == "." {
			parent = ""
		}
		l.ParentDir = &parent
	}
	return l, nil
}

// Search walks the tree breadth-first from sp and collects entries whose
// name contains pattern (case-insensitive). The walk never descends into
// symlinked, hidden, or reserved directories, tolerates directories that
// disappear mid-walk, and stops early at the result or scan caps.
func (s *Service) Search(ctx context.Context, sp fsutil.SandboxedPath, pattern string) (SearchResult, error) {
	pattern = strings.TrimSpace(pattern)
	if utf8.RuneCountInString(pattern) < 2 {
		return SearchResult{}, ErrPatternTooShort
	}
	st, err := os.Stat(sp.Abs())
	if err != nil {
		return SearchResult{}, err
	}
	if !st.IsDir() {
		return SearchResult{}, ErrNotDir
	}

	needle := strings.ToLower(pattern)
	res := SearchResult{SearchPath: sp.Rel()}

	type node struct {
		abs string
		rel string
	}
	queue := []node{{abs: sp.Abs(), rel: sp.Rel()}}
	scanned := 0

walk:
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n := queue[0]
		queue = queue[1:]

		scanned++
		if scanned > s.maxScanned() {
			res.Truncated = true
			break
		}
		ents, err := os.ReadDir(n.abs)
		if err != nil {
			// Directory vanished or turned unreadable mid-walk.
			continue
		}
		for _, e := range ents {
			scanned++
			if scanned > s.maxScanned() {
				res.Truncated = true
				break walk
			}
			name := e.Name()
			if isHidden(name) || s.Sandbox.IsForbiddenName(name) {
				continue
			}
			if strings.Contains(strings.ToLower(name), needle) {
				info, err := e.Info()
				if err != nil {
					continue
				}
				res.Results = append(res.Results, SearchHit{
					Entry:     NewEntry(name, joinRel(n.rel, name), info),
					Directory: n.rel,
				})
				if len(res.Results) >= s.maxResults() {
					res.Truncated = true
					break walk
				}
			}
			if e.IsDir() && e.Type()&fs.ModeSymlink == 0 {
				queue = append(queue, node{abs: filepath.Join(n.abs, name), rel: joinRel(n.rel, name)})
			}
		}
	}

	res.Count = len(res.Results)
	return res, nil
}

func sortEntries(files []Entry) {
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.Type != b.Type {
			return a.Type == "folder"
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.Name < b.Name
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
