// Package jobname builds Job Identities and the local file paths derived
// from them.
//
// A generated identity combines the host name with a random human readable
// token, e.g. "buildbox-silent-river-4821". Uniqueness is practical, not
// cryptographic: the token space is the petname adjectives × names × 10000.
package jobname

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
)

const (
	filePrefix   = "kraken-job-"
	fallbackHost = "localhost"
)

// Hostname returns the local machine's host name, or "localhost" if it
// cannot be determined.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallbackHost
	}
	return h
}

// Haiku returns a random "adjective-name-NNNN" token. r only drives the
// numeric suffix, nil means the global source.
func Haiku(r *rand.Rand) string {
	n := rand.IntN(10000)
	if r != nil {
		n = r.IntN(10000)
	}
	return fmt.Sprintf("%s-%04d", petname.Generate(2, "-"), n)
}

// Generate returns "<host>-<haiku>". Characters of host that cannot appear in
// a file name are replaced.
func Generate(host string, r *rand.Rand) string {
	return sanitize(host) + "-" + Haiku(r)
}

// Validate reports whether name can be used as a Job Identity. The identity
// becomes part of a file name and of a URL path segment.
func Validate(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("job name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("job name %q is reserved", name)
	case strings.ContainsAny(name, "/\\\x00\n\r"):
		return fmt.Errorf("job name %q contains a path separator or control character", name)
	}
	return nil
}

func sanitize(host string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, host)
	if clean == "" {
		return fallbackHost
	}
	return clean
}

// Paths are the local files of one job.
type Paths struct {
	Out string // transcript: header, captured lines, terminal marker
	Err string // diagnostics of the detached daemon
	PID string
}

// PathsFor derives the local files of the job name inside dir. An empty dir
// means os.TempDir().
func PathsFor(dir, name string) Paths {
	if dir == "" {
		dir = os.TempDir()
	}
	base := filepath.Join(dir, filePrefix+name)
	return Paths{
		Out: base + ".out",
		Err: base + ".err",
		PID: base + ".pid",
	}
}
