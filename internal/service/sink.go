package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileSink appends lines to a single file inside a directory opened as
// os.Root. Every Write opens, locks, writes, syncs and closes the file so no
// handle outlives a line and concurrent writers never interleave.
type FileSink struct {
	root *os.Root
	name string
	perm os.FileMode
}

func NewFileSink(path string) (*FileSink, error) {
	dir, name := filepath.Split(path)
	if name == "" {
		return nil, fmt.Errorf("file sink: %q is a directory", path)
	}
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	return &FileSink{root: root, name: name, perm: 0o644}, nil
}

func (s *FileSink) Path() string {
	return filepath.Join(s.root.Name(), s.name)
}

// Truncate creates the file or empties an existing one.
func (s *FileSink) Truncate() error {
	f, err := s.root.OpenFile(s.name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, s.perm)
	if err != nil {
		return fmt.Errorf("truncating %s: %w", s.name, err)
	}
	return f.Close()
}

func (s *FileSink) Write(_ context.Context, line string) (err error) {
	f, err := s.root.OpenFile(s.name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, s.perm)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", s.name, cerr)
		}
	}()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking %s: %w", s.name, err)
	}
	defer func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
	}()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing %s: %w", s.name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.name, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.root.Close()
}
