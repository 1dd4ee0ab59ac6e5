package fs

import "errors"

// Sentinel errors returned by FileSystem operations, per SPEC_FULL.md §2/§7.
// Resource-exhaustion and not-found/wrong-kind failures return one of
// these with no partial state persisted; precondition violations panic
// instead (asserted invariants, out-of-range sectors).
var (
	ErrNoSpace       = errors.New("fs: insufficient free space")
	ErrNotFound      = errors.New("fs: no such file or directory")
	ErrExists        = errors.New("fs: path already exists")
	ErrNotADirectory = errors.New("fs: not a directory")
	ErrIsADirectory  = errors.New("fs: is a directory")
	ErrDirectoryFull = errors.New("fs: directory has no free entry")
	ErrNameTooLong   = errors.New("fs: name exceeds maximum length")
	ErrNotEmpty      = errors.New("fs: directory not empty")
)
