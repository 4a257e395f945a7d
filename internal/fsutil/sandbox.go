// Package fsutil confines all filesystem access to the serve root.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path escapes root")
	ErrNameForbidden = errors.New("name is reserved")
)

// Sandbox maps user-provided paths to filesystem paths under a fixed
// root. The root is resolved once at construction; forbidden names
// (server artifacts like the database or the trash directory) are not
// addressable through any resolved path.
type Sandbox struct {
	root      string
	forbidden map[string]struct{}
}

// NewSandbox verifies the root and captures its resolved form.
func NewSandbox(root string, forbidden []string) (*Sandbox, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errors.New("root is not a directory")
	}
	fb := make(map[string]struct{}, len(forbidden))
	for _, name := range forbidden {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			fb[name] = struct{}{}
		}
	}
	return &Sandbox{root: filepath.Clean(resolved), forbidden: fb}, nil
}

// Root returns the absolute, symlink-resolved serve root.
func (s *Sandbox) Root() string { return s.root }

// IsForbiddenName reports whether a single name is reserved.
// Matching is case-insensitive and exact (prefixes are fine).
func (s *Sandbox) IsForbiddenName(name string) bool {
	_, ok := s.forbidden[strings.ToLower(name)]
	return ok
}

// SandboxedPath is a path proven to live under the sandbox root.
// The zero value is not valid; only Sandbox.Resolve produces one.
type SandboxedPath struct {
	abs string
	rel string
}

// Abs returns the absolute filesystem path.
func (p SandboxedPath) Abs() string { return p.abs }

// Rel returns the root-relative path with forward slashes.
// The root itself is "".
func (p SandboxedPath) Rel() string { return p.rel }

// Base returns the final path component, or "" for the root.
func (p SandboxedPath) Base() string {
	if p.rel == "" {
		return ""
	}
	return path.Base(p.rel)
}

// IsRoot reports whether the path is the serve root itself.
func (p SandboxedPath) IsRoot() bool { return p.rel == "" }

// Child addresses a direct child by a name that came from reading this
// directory. The name must be a single component; names with separators
// or parent references are rejected the same way Resolve rejects them.
func (p SandboxedPath) Child(s *Sandbox, name string) (SandboxedPath, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return SandboxedPath{}, ErrPathTraversal
	}
	if s.IsForbiddenName(name) {
		return SandboxedPath{}, ErrNameForbidden
	}
	return SandboxedPath{
		abs: filepath.Join(p.abs, name),
		rel: path.Join(p.rel, name),
	}, nil
}

// Resolve maps a user-provided path to a SandboxedPath. It rejects
// parent references, absolute-drive prefixes, reserved names, and any
// symlink that leads outside the root. The final component may not
// exist yet; intermediate symlinks are resolved for the containment
// check but the returned path keeps the user-visible components.
func (s *Sandbox) Resolve(raw string) (SandboxedPath, error) {
	p := strings.TrimLeft(raw, "/\\")
	if hasDrivePrefix(p) {
		return SandboxedPath{}, ErrPathTraversal
	}

	comps := splitComponents(p)
	for _, c := range comps {
		if c == ".." {
			return SandboxedPath{}, ErrPathTraversal
		}
		if s.IsForbiddenName(c) {
			return SandboxedPath{}, ErrNameForbidden
		}
	}
	rel := path.Join(comps...)

	joined := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if !isWithin(s.root, joined) {
		return SandboxedPath{}, ErrPathTraversal
	}

	// Resolve whatever already exists and confirm it is still inside
	// the root, so a symlinked component cannot widen the sandbox.
	existing := nearestExisting(joined)
	if existing != "" {
		resolved, err := filepath.EvalSymlinks(existing)
		if err != nil {
			return SandboxedPath{}, err
		}
		resolved = filepath.Clean(resolved)
		if !isWithin(s.root, resolved) {
			return SandboxedPath{}, ErrPathTraversal
		}
		// A symlink must not alias a reserved name either.
		if err := s.checkResolvedNames(resolved); err != nil {
			return SandboxedPath{}, err
		}
	}

	return SandboxedPath{abs: joined, rel: rel}, nil
}

// checkResolvedNames re-runs the reserved-name check on the components
// of a symlink-resolved path.
func (s *Sandbox) checkResolvedNames(resolved string) error {
	if len(s.forbidden) == 0 {
		return nil
	}
	relPart, err := filepath.Rel(s.root, resolved)
	if err != nil || relPart == "." {
		return nil
	}
	for _, c := range strings.Split(relPart, string(filepath.Separator)) {
		if s.IsForbiddenName(c) {
			return ErrNameForbidden
		}
	}
	return nil
}

// splitComponents breaks a raw path on both separator styles, dropping
// empty and "." parts.
func splitComponents(p string) []string {
	f := func(r rune) bool { return r == '/' || r == '\\' }
	var out []string
	for _, c := range strings.FieldsFunc(p, f) {
		if c == "" || c == "." {
			continue
		}
		out = append(out, c)
	}
	return out
}

// hasDrivePrefix detects Windows-style drive paths ("C:...") which must
// not be interpreted as names under the root.
func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWithin(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

func nearestExisting(p string) string {
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			return cur
		}
		if !os.IsNotExist(err) {
			return ""
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}
