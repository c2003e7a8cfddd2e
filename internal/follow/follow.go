// Package follow reads the local transcript of a job while it grows.
package follow

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultPoll = 500 * time.Millisecond

// Follower yields the lines of a file as they are appended. File system
// events wake it up early; a ticker covers file systems without them.
type Follower struct {
	path string
	poll time.Duration
	stop func(line string) bool
}

func New(path string) *Follower {
	return &Follower{path: path, poll: DefaultPoll}
}

// WithPoll sets the polling interval.
func (f *Follower) WithPoll(d time.Duration) *Follower {
	if d > 0 {
		f.poll = d
	}
	return f
}

// WithStop ends the sequence after the first line for which stop is true.
func (f *Follower) WithStop(stop func(line string) bool) *Follower {
	f.stop = stop
	return f
}

// Lines yields every line of the file from its start and keeps waiting for
// more until the stop line or until ctx is done. A file which does not exist
// yet is waited for. A truncated or replaced file is read again from start.
func (f *Follower) Lines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		file, err := f.open(ctx)
		if err != nil {
			if ctx.Err() == nil {
				yield("", err)
			}
			return
		}
		defer func() {
			_ = file.Close()
		}()

		var events <-chan fsnotify.Event
		var errs <-chan error
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			slog.DebugContext(ctx, "file watcher not available: polling", "error", err)
		} else {
			defer func() {
				_ = watcher.Close()
			}()
			if err := watcher.Add(f.path); err != nil {
				slog.DebugContext(ctx, "watching file failed: polling", "path", f.path, "error", err)
			} else {
				events, errs = watcher.Events, watcher.Errors
			}
		}

		ticker := time.NewTicker(f.poll)
		defer ticker.Stop()

		br := bufio.NewReader(file)
		var partial strings.Builder
		var offset int64
		for {
			for {
				chunk, err := br.ReadString('\n')
				offset += int64(len(chunk))
				if err != nil {
					// incomplete line, the rest comes with a later write
					partial.WriteString(chunk)
					if !errors.Is(err, io.EOF) {
						yield("", err)
						return
					}
					break
				}
				partial.WriteString(chunk)
				line := strings.TrimSuffix(strings.TrimSuffix(partial.String(), "\n"), "\r")
				partial.Reset()
				if !yield(line, nil) {
					return
				}
				if f.stop != nil && f.stop(line) {
					return
				}
			}

			if f.replaced(file, offset) {
				slog.DebugContext(ctx, "file truncated or replaced: reading from start", "path", f.path)
				reopened, err := os.Open(f.path)
				if err == nil {
					_ = file.Close()
					file = reopened
					br.Reset(file)
					offset = 0
					partial.Reset()
					if watcher != nil {
						_ = watcher.Add(f.path)
					}
					continue
				}
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					events = nil
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				slog.DebugContext(ctx, "file watcher error", "error", err)
			case <-ticker.C:
			}
		}
	}
}

func (f *Follower) open(ctx context.Context) (*os.File, error) {
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	for {
		file, err := os.Open(f.path)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Follower) replaced(file *os.File, offset int64) bool {
	current, err := os.Stat(f.path)
	if err != nil {
		return false
	}
	opened, err := file.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(current, opened) || current.Size() < offset
}

// Tail returns at most n last lines of the file at path.
func Tail(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	if n <= 0 {
		return nil, nil
	}
	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 2<<20)
	for scanner.Scan() {
		if len(lines) == n {
			lines = append(lines[:0], lines[1:]...)
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
