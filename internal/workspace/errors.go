package workspace

import "errors"

var (
	// ErrAccessDenied is returned for paths that resolve outside the root.
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("path not found")
	ErrIsDirectory  = errors.New("path is a directory")
	ErrEmptyPath    = errors.New("path is required")
)
