package fs

import "errors"

// File-system failure modes. All operations surface one of these, possibly
// wrapped with positional context; nothing in this package panics.
var (
	ErrNotMounted   = errors.New("file system is not mounted")
	ErrBadMagic     = errors.New("image does not contain a valid file system (magic number mismatch)")
	ErrNoSpace      = errors.New("no space left on device")
	ErrNotFound     = errors.New("no such file or directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrExists       = errors.New("entry already exists")
	ErrNameTooLong  = errors.New("entry name too long")
	ErrBadFd        = errors.New("bad file descriptor")
)
