package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/grantgumina/kraken/internal/jobname"
	"github.com/grantgumina/kraken/internal/log"
	"github.com/grantgumina/kraken/internal/model"
)

type JobState int32

const (
	Created JobState = iota
	Detaching
	Running
	Completed
)

func (s JobState) String() string {
	switch s {
	case Created:
		return "created"
	case Detaching:
		return "detaching"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Spec is everything a detached daemon needs to run one job. It is passed
// to the daemon as yaml on stdin.
type Spec struct {
	RunID       string        `yaml:"run_id"`
	Name        string        `yaml:"name"`
	Machine     string        `yaml:"machine"`
	Command     string        `yaml:"command"`
	Description string        `yaml:"description,omitempty"`
	Paths       jobname.Paths `yaml:"paths"`
	Config      model.Config  `yaml:"config"`
}

func (s Spec) command() Command {
	return Command{
		Shell:       s.Config.Job.Shell,
		Line:        s.Command,
		Dir:         s.dir(),
		Env:         s.env(),
		Timeout:     s.Config.Job.Timeout,
		GracePeriod: s.Config.Job.GracePeriod,
	}
}

func (s Spec) env() []string {
	if len(s.Config.Job.Env) == 0 {
		return nil
	}
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(s.Config.Job.Env)) {
		env = append(env, k+"="+os.ExpandEnv(s.Config.Job.Env[k]))
	}
	return env
}

func (s Spec) dir() string {
	if s.Config.Job.Dir != "" {
		return s.Config.Job.Dir
	}
	return filepath.Dir(s.Paths.Out)
}

// Job runs one command and records its output locally and remotely.
type Job struct {
	spec       Spec
	state      atomic.Int32
	runner     *Runner
	local      *FileSink
	relay      *Relay
	writer     *Writer
	completion *Completion
}

// NewJob prepares the job described by spec. A nil submitter disables the
// remote relay.
func NewJob(spec Spec, submitter model.LineSubmitter) (*Job, error) {
	if spec.RunID == "" {
		spec.RunID = uuid.NewString()
	}
	if err := jobname.Validate(spec.Name); err != nil {
		return nil, err
	}
	local, err := NewFileSink(spec.Paths.Out)
	if err != nil {
		return nil, err
	}

	j := &Job{
		spec:       spec,
		runner:     NewRunner(),
		local:      local,
		completion: NewCompletion(),
	}
	var remote model.Sink
	if submitter != nil {
		j.relay = NewRelay(submitter, spec.Name, spec.Config.Relay.Queue).
			WithGrace(spec.Config.Job.GracePeriod)
		remote = j.relay
	}
	j.writer = NewWriter(spec.Name, local, remote).
		WithMarkerTimeout(spec.Config.Server.Timeout)
	return j, nil
}

func (j *Job) Name() string {
	return j.spec.Name
}

func (j *Job) State() JobState {
	return JobState(j.state.Load())
}

func (j *Job) Completion() *Completion {
	return j.completion
}

// WithClock replaces the clock of the transcript header.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.writer.WithClock(now)
	return j
}

func (j *Job) setState(ctx context.Context, s JobState) {
	j.state.Store(int32(s))
	slog.DebugContext(ctx, "job state changed", "state", s.String())
}

// Run executes the job on a dedicated worker goroutine and blocks until
// both the worker and the relay finished. It returns the command Result and
// an error only if the command could not be started.
func (j *Job) Run(ctx context.Context) (Result, error) {
	ctx = log.ContextAttrs(ctx, slog.String("job", j.spec.Name), slog.String("run_id", j.spec.RunID))
	defer func() {
		if err := j.local.Close(); err != nil {
			slog.WarnContext(ctx, "closing local sink", "error", err)
		}
	}()

	var g errgroup.Group
	if j.relay != nil {
		g.Go(func() error {
			return j.relay.Run(ctx)
		})
	}

	var result Result
	g.Go(func() error {
		if j.relay != nil {
			defer func() {
				_ = j.relay.Close()
			}()
		}
		var err error
		result, err = j.work(ctx)
		return err
	})

	err := g.Wait()
	j.setState(ctx, Completed)
	return result, err
}

func (j *Job) work(ctx context.Context) (Result, error) {
	j.setState(ctx, Running)

	if err := j.local.Truncate(); err != nil {
		slog.ErrorContext(ctx, "creating local log failed", "path", j.local.Path(), "error", err)
	}

	if err := j.runner.Start(ctx, j.spec.command()); err != nil {
		return j.runner.Result(), fmt.Errorf("starting command: %w", err)
	}

	j.writer.Header(ctx, j.spec.Command)
	for line := range j.runner.Lines() {
		j.writer.Line(ctx, line)
	}
	result := j.runner.Wait()

	state, marker := Done, MarkerExit
	if result.Cancelled {
		state, marker = Cancelled, MarkerCancelled
	}
	j.writer.Finish(ctx, marker)
	j.completion.finish(state)

	slog.InfoContext(ctx, "command finished",
		"exit_code", result.ExitCode(),
		"cancelled", result.Cancelled,
		"duration", result.Stopped.Sub(result.Started).String(),
	)
	return result, nil
}
