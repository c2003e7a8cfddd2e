package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/grantgumina/kraken/internal/jobname"
	"github.com/grantgumina/kraken/internal/log"
	"github.com/grantgumina/kraken/internal/model"
)

// ReadSpec decodes the Spec a daemon receives on stdin.
func ReadSpec(r io.Reader) (Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return Spec{}, fmt.Errorf("decoding spec: %w", err)
	}
	var errs []error
	if err := jobname.Validate(spec.Name); err != nil {
		errs = append(errs, err)
	}
	if spec.Command == "" {
		errs = append(errs, errors.New("command: is required"))
	}
	if spec.Paths.Out == "" {
		errs = append(errs, errors.New("paths.out: is required"))
	}
	if err := spec.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Spec{}, fmt.Errorf("invalid spec: %w", err)
	}
	return spec, nil
}

// RunDaemon runs the job of spec in the current process, which is expected
// to be detached already. The pid file exists for as long as it runs.
func RunDaemon(ctx context.Context, spec Spec, submitter model.LineSubmitter) error {
	pid := os.Getpid()
	ctx = log.ContextAttrs(ctx, slog.Int("pid", pid))

	if spec.Paths.PID != "" {
		if err := WritePIDFile(spec.Paths.PID, pid); err != nil {
			slog.WarnContext(ctx, "writing pid file failed", "error", err)
		} else {
			defer removePIDFile(ctx, spec.Paths.PID, pid)
		}
	}

	job, err := NewJob(spec, submitter)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "daemon started", "job", spec.Name, "command", spec.Command)
	_, err = job.Run(ctx)
	return err
}

// WritePIDFile atomically replaces path with pid.
func WritePIDFile(path string, pid int) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, base+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.WriteString(strconv.Itoa(pid) + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func ReadPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%s: invalid pid %q", path, strings.TrimSpace(string(raw)))
	}
	return pid, nil
}

// removePIDFile removes path unless a newer daemon of the same name took it
// over.
func removePIDFile(ctx context.Context, path string, pid int) {
	current, err := ReadPIDFile(path)
	if err != nil || current != pid {
		return
	}
	if err := os.Remove(path); err != nil {
		slog.WarnContext(ctx, "removing pid file failed", "error", err)
	}
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// LocalStatus returns the pid of the daemon running the job of paths.
func LocalStatus(paths jobname.Paths) (int, bool) {
	pid, err := ReadPIDFile(paths.PID)
	if err != nil {
		return 0, false
	}
	return pid, Alive(pid)
}
