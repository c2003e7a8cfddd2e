// Package credential persists the access token of the remote service in a
// single owner-only file, ~/.krakenrc by default.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/grantgumina/kraken/internal/model"
)

const (
	FileName = ".krakenrc"

	// loggedOut is what older clients wrote on logout instead of deleting
	// the file.
	loggedOut = "empty"
)

type Store struct {
	path string
}

// New returns a store backed by path. An empty path resolves to
// ~/.krakenrc.
func New(path string) (Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Store{}, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, FileName)
	}
	return Store{path: path}, nil
}

func (s Store) Path() string {
	return s.path
}

// Store replaces the stored token.
func (s Store) Store(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening token file: %w", err)
	}
	if _, err := f.WriteString(token + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	// tighten files created by older versions with looser permissions
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("restricting token file: %w", err)
	}
	return f.Close()
}

// Retrieve returns the stored token or an error wrapping model.ErrNoToken.
func (s Store) Retrieve() (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", s.path, model.ErrNoToken)
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimRight(string(b), "\r\n")
	if token == "" || token == loggedOut {
		return "", fmt.Errorf("%s: %w", s.path, model.ErrNoToken)
	}
	return token, nil
}

// Clear removes the stored token. Clearing an absent token is not an error.
func (s Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
