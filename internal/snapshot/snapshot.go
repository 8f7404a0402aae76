package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Errors for snapshot operations.
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrFileTooLarge  = errors.New("file exceeds size limit")
	ErrNotFound      = errors.New("path not found in snapshot")
	ErrNotRegular    = errors.New("not a regular file")
)

// Options bounds a snapshot.
type Options struct {
	// MaxDepth bounds directory recursion (default: 16).
	MaxDepth int

	// MaxFileSize bounds file reads in bytes (default: 1MiB).
	MaxFileSize int64

	// Exclude lists glob patterns skipped during walks, in addition to
	// patterns read from the repository's ignore files.
	Exclude []string
}

// DefaultOptions returns the default bounds.
func DefaultOptions() Options {
	return Options{
		MaxDepth:    16,
		MaxFileSize: 1024 * 1024,
	}
}

// Node is one entry in a listed tree.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"` // relative to the snapshot root
	IsDir    bool    `json:"is_dir"`
	Size     int64   `json:"size,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Snapshot is a bounded read-only view of a repository tree.
type Snapshot struct {
	root     string
	opts     Options
	excludes []string
}

// New creates a snapshot rooted at root. Exclude patterns from the options
// are combined with patterns parsed from the repository's ignore files.
func New(root string, opts Options) (*Snapshot, error) {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultOptions().MaxDepth
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultOptions().MaxFileSize
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", abs)
	}

	ignored, err := parseIgnoreFiles(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ignore files: %w", err)
	}

	excludes := append([]string{".git/**"}, ignored...)
	excludes = append(excludes, opts.Exclude...)

	return &Snapshot{
		root:     abs,
		opts:     opts,
		excludes: deduplicate(excludes),
	}, nil
}

// Root returns the absolute snapshot root.
func (s *Snapshot) Root() string {
	return s.root
}

// Resolve validates a snapshot-relative path and returns its absolute form.
// Absolute paths, parent references, and anything escaping the root are
// rejected with ErrPathTraversal.
func (s *Snapshot) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	abs := filepath.Join(s.root, clean)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	return abs, nil
}

// Read returns the content of a file within the snapshot, enforcing the
// size bound.
func (s *Snapshot) Read(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return "", fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, rel)
	}
	if info.Size() > s.opts.MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, rel, info.Size(), s.opts.MaxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(data), nil
}

// List returns the tree below rel, bounded by depth. A depth of 0 or above
// the snapshot's MaxDepth is clamped to MaxDepth.
func (s *Snapshot) List(rel string, depth int) (*Node, error) {
	if depth <= 0 || depth > s.opts.MaxDepth {
		depth = s.opts.MaxDepth
	}
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	}

	relClean := filepath.Clean(rel)
	if relClean == "." {
		relClean = ""
	}
	return s.buildNode(abs, relClean, info.IsDir(), info.Size(), depth)
}

func (s *Snapshot) buildNode(abs, rel string, isDir bool, size int64, depth int) (*Node, error) {
	node := &Node{
		Name:  filepath.Base(abs),
		Path:  rel,
		IsDir: isDir,
	}
	if !isDir {
		node.Size = size
		return node, nil
	}
	if depth == 0 {
		return node, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", rel, err)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })

	for _, e := range entries {
		childRel := filepath.Join(rel, e.Name())
		if s.excluded(childRel, e.IsDir()) {
			continue
		}
		var childSize int64
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				childSize = info.Size()
			}
		}
		child, err := s.buildNode(filepath.Join(abs, e.Name()), childRel, e.IsDir(), childSize, depth-1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// Files returns the relative paths of all regular files in the snapshot,
// honoring the exclude patterns and depth bound, sorted ascending. This is
// the analyzer-facing view.
func (s *Snapshot) Files() ([]string, error) {
	var files []string
	var walk func(abs, rel string, depth int) error
	walk = func(abs, rel string, depth int) error {
		if depth == 0 {
			return nil
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return fmt.Errorf("failed to read directory %s: %w", rel, err)
		}
		for _, e := range entries {
			childRel := e.Name()
			if rel != "" {
				childRel = rel + "/" + e.Name()
			}
			if s.excluded(childRel, e.IsDir()) {
				continue
			}
			if e.IsDir() {
				if err := walk(filepath.Join(abs, e.Name()), childRel, depth-1); err != nil {
					return err
				}
				continue
			}
			if e.Type().IsRegular() {
				files = append(files, childRel)
			}
		}
		return nil
	}
	if err := walk(s.root, "", s.opts.MaxDepth); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// excluded reports whether a relative path matches any exclude pattern.
func (s *Snapshot) excluded(rel string, isDir bool) bool {
	slashed := filepath.ToSlash(rel)
	for _, pattern := range s.excludes {
		if matchPattern(pattern, slashed, isDir) {
			return true
		}
	}
	return false
}
