package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/grantgumina/kraken/internal/jobname"
	"github.com/grantgumina/kraken/internal/model"
)

// DaemonCommand is the hidden subcommand a detached daemon runs as.
const DaemonCommand = "_daemon"

// JobCreator registers the remote Job Record.
type JobCreator interface {
	CreateJob(ctx context.Context, machine, name, description string) error
}

// DetachFunc starts a daemon for spec which outlives the caller and returns
// its pid.
type DetachFunc func(ctx context.Context, spec Spec) (int, error)

type NewJobRequest struct {
	Command     string
	Name        string // empty generates one from the hostname
	Description string
}

type Launched struct {
	Spec Spec
	PID  int
}

// Controller prepares a job in the invoking process and hands it over to a
// detached daemon. Nothing is detached unless every pre-flight step passed.
type Controller struct {
	cfg    model.Config
	jobs   JobCreator
	detach DetachFunc
	host   string
	rand   *rand.Rand
}

func NewController(cfg model.Config, jobs JobCreator, detach DetachFunc) *Controller {
	return &Controller{
		cfg:    cfg,
		jobs:   jobs,
		detach: detach,
		host:   jobname.Hostname(),
	}
}

// WithHost overrides the machine name used for the identity and the record.
func (c *Controller) WithHost(host string) *Controller {
	c.host = host
	return c
}

// WithRand fixes the source of the numeric suffix of generated identities.
func (c *Controller) WithRand(r *rand.Rand) *Controller {
	c.rand = r
	return c
}

// Prepare computes the identity and the local paths of a new job.
func (c *Controller) Prepare(req NewJobRequest) (Spec, error) {
	if req.Command == "" {
		return Spec{}, errors.New("command is empty")
	}
	name := req.Name
	if name == "" {
		name = jobname.Generate(c.host, c.rand)
	}
	if err := jobname.Validate(name); err != nil {
		return Spec{}, err
	}
	return Spec{
		RunID:       uuid.NewString(),
		Name:        name,
		Machine:     c.host,
		Command:     req.Command,
		Description: req.Description,
		Paths:       jobname.PathsFor(c.cfg.Job.Dir, name),
		Config:      c.cfg,
	}, nil
}

// Launch runs the pre-flight steps and detaches the daemon.
func (c *Controller) Launch(ctx context.Context, req NewJobRequest) (Launched, error) {
	spec, err := c.Prepare(req)
	if err != nil {
		return Launched{}, err
	}
	slog.DebugContext(ctx, "job state changed", "job", spec.Name, "state", Created.String())

	shell := spec.Config.Job.Shell
	if shell == "" {
		shell = model.DefaultShell
	}
	if _, err := exec.LookPath(shell); err != nil {
		return Launched{}, fmt.Errorf("shell is not available: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(spec.Paths.Out), 0o755); err != nil {
		return Launched{}, fmt.Errorf("creating job directory: %w", err)
	}
	if err := c.jobs.CreateJob(ctx, spec.Machine, spec.Name, spec.Description); err != nil {
		return Launched{}, fmt.Errorf("creating job record: %w", err)
	}

	slog.DebugContext(ctx, "job state changed", "job", spec.Name, "state", Detaching.String())
	pid, err := c.detach(ctx, spec)
	if err != nil {
		return Launched{}, fmt.Errorf("detaching daemon: %w", err)
	}
	slog.InfoContext(ctx, "job detached", "job", spec.Name, "pid", pid, "out", spec.Paths.Out)
	return Launched{Spec: spec, PID: pid}, nil
}

// Detacher re-executes a binary in a new session with the Spec on stdin and
// stdout plus stderr appended to the .err file of the job.
type Detacher struct {
	Executable string
	Args       []string
}

// NewDetacher re-executes the running binary as DaemonCommand.
func NewDetacher() (Detacher, error) {
	exe, err := os.Executable()
	if err != nil {
		return Detacher{}, err
	}
	return Detacher{Executable: exe, Args: []string{DaemonCommand}}, nil
}

func (d Detacher) Detach(_ context.Context, spec Spec) (int, error) {
	raw, err := yaml.Marshal(spec)
	if err != nil {
		return 0, fmt.Errorf("encoding spec: %w", err)
	}

	errFile, err := os.OpenFile(spec.Paths.Err, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = errFile.Close()
	}()

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = pw.Close()
	}()

	// not bound to ctx: the daemon must outlive the invoking process
	cmd := exec.Command(d.Executable, d.Args...)
	cmd.Dir = filepath.Dir(spec.Paths.Out)
	cmd.Stdin = pr
	cmd.Stdout = errFile
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err = cmd.Start()
	_ = pr.Close()
	if err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	if _, err := bytes.NewReader(raw).WriteTo(pw); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return 0, fmt.Errorf("sending spec: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return 0, err
	}
	return pid, nil
}
