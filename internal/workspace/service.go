// Package workspace exposes the server's project directory over HTTP.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"codestream/internal/logging"
)

// Node is one entry in the workspace tree.
type Node struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Path     string  `json:"path"`
	Children []*Node `json:"children,omitempty"`
}

const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// Service reads and writes files under a single root directory.
// ARCHITECTURAL DISCOVERY: The tree listing is cached and dropped whenever the
// watcher reports a change in any listed directory or a write goes through
// this service.
type Service struct {
	root     string
	realRoot string

	cacheMu sync.RWMutex
	tree    *Node

	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	closeOnce sync.Once

	log *logrus.Entry
}

// NewService roots the service at root. With watch set, filesystem changes
// made outside the service also invalidate the cached tree.
func NewService(root string, watch bool) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}

	s := &Service{
		root:      abs,
		realRoot:  realRoot,
		stopWatch: make(chan struct{}),
		log:       logging.Component("workspace"),
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.WithError(err).Warn("Failed to create file watcher, tree cache relies on writes only")
		} else {
			s.watcher = watcher
			go s.watchFiles()
		}
	}
	return s, nil
}

// Root returns the absolute workspace root.
func (s *Service) Root() string {
	return s.root
}

// Close stops the watcher.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopWatch)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

func (s *Service) watchFiles() {
	for {
		select {
		case <-s.stopWatch:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			s.invalidate()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("Filesystem watcher error")
		}
	}
}

func (s *Service) invalidate() {
	s.cacheMu.Lock()
	s.tree = nil
	s.cacheMu.Unlock()
}

// Resolve maps a client path to an absolute path inside the root.
// FUNCTIONAL DISCOVERY: Both "/src/a.go" and "src/a.go" are relative to the
// root; anything that cleans to a location above it is refused.
func (s *Service) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsRune(p, 0) {
		return "", ErrAccessDenied
	}
	joined := filepath.Join(s.root, filepath.FromSlash(strings.TrimLeft(p, "/")))
	if !within(s.root, joined) {
		return "", ErrAccessDenied
	}

	if err := s.checkLinks(joined); err != nil {
		return "", err
	}
	return joined, nil
}

// checkLinks resolves the deepest existing ancestor of abs (abs included) and
// refuses it when the real location is outside the root. Paths that do not
// exist yet are judged by the directory they would be created in, and a
// dangling symlink anywhere on the way is refused.
func (s *Service) checkLinks(abs string) error {
	cur := abs
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if !within(s.realRoot, real) {
				return ErrAccessDenied
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return ErrAccessDenied
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return ErrAccessDenied
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ErrAccessDenied
		}
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ListTree returns the recursive tree of the root, directories first then
// files, each group sorted by name.
func (s *Service) ListTree(ctx context.Context) (*Node, error) {
	s.cacheMu.RLock()
	cached := s.tree
	s.cacheMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	var watched []string
	tree, err := s.walk(ctx, s.root, "", &watched)
	if err != nil {
		return nil, err
	}

	if s.watcher != nil {
		for _, dir := range watched {
			if err := s.watcher.Add(dir); err != nil {
				s.log.WithError(err).WithField("dir", dir).Debug("Failed to watch directory")
			}
		}
	}

	s.cacheMu.Lock()
	s.tree = tree
	s.cacheMu.Unlock()
	return tree, nil
}

func (s *Service) walk(ctx context.Context, abs, rel string, watched *[]string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", rel, err)
	}
	*watched = append(*watched, abs)

	name := filepath.Base(abs)
	if rel == "" {
		name = filepath.Base(s.root)
	}
	node := &Node{Name: name, Type: TypeDirectory, Path: "/" + filepath.ToSlash(rel), Children: []*Node{}}

	for _, entry := range entries {
		childRel := filepath.Join(rel, entry.Name())
		if entry.IsDir() {
			if skippedDirs[entry.Name()] {
				continue
			}
			child, err := s.walk(ctx, filepath.Join(abs, entry.Name()), childRel, watched)
			if err != nil {
				if errors.Is(err, fs.ErrPermission) {
					continue
				}
				return nil, err
			}
			node.Children = append(node.Children, child)
			continue
		}
		node.Children = append(node.Children, &Node{
			Name: entry.Name(),
			Type: TypeFile,
			Path: "/" + filepath.ToSlash(childRel),
		})
	}

	sort.SliceStable(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if a.Type != b.Type {
			return a.Type == TypeDirectory
		}
		return a.Name < b.Name
	})
	return node, nil
}

// ReadFile returns the content of a file inside the root.
func (s *Service) ReadFile(ctx context.Context, p string) ([]byte, error) {
	abs, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}
	return os.ReadFile(abs)
}

// WriteFile replaces a file inside the root, creating parent directories.
// TECHNICAL DISCOVERY: The write goes to a temp file renamed over the target,
// so readers never observe a partially written file.
func (s *Service) WriteFile(ctx context.Context, p string, data []byte) error {
	abs, err := s.Resolve(p)
	if err != nil {
		return err
	}
	if abs == s.root {
		return ErrIsDirectory
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return ErrIsDirectory
	}
	parent := filepath.Dir(abs)
	if err := s.checkLinks(parent); err != nil {
		return err
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	// The tree may have changed between the check and MkdirAll.
	if err := s.checkLinks(parent); err != nil {
		return err
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}

	s.invalidate()
	return nil
}
