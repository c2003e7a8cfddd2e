package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/grantgumina/kraken/internal/model"
)

var (
	ErrJobNotStarted = errors.New("job not started")
	ErrJobInProgress = errors.New("job in progress")
)

// maxLineSize is the longest line yielded in one piece, longer output
// without a newline is split.
const maxLineSize = 1 << 20

type Runner struct {
	mx     sync.RWMutex
	cmd    *exec.Cmd
	stream *os.File
	result Result
	done   chan struct{}
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrJobNotStarted},
	}
}

type Command struct {
	Shell   string
	Line    string
	Dir     string
	Env     []string // nil inherits the environment of the daemon
	Timeout time.Duration
	// GracePeriod between SIGTERM and SIGKILL sent to the process group on
	// cancellation, zero kills immediately.
	GracePeriod time.Duration
}

type Result struct {
	Command   string
	Started   time.Time
	Stopped   time.Time
	State     *os.ProcessState
	Err       error
	Cancelled bool
}

// ExitCode returns the exit code of the finished command or -1.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Start runs `<shell> -c <line>` in its own process group with stdout and
// stderr sharing one pipe. It returns ErrJobInProgress or an exec error,
// otherwise nil. It does NOT wait for the command, consume Lines and then
// call Wait.
func (r *Runner) Start(ctx context.Context, proto Command) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil || r.stream != nil {
		return ErrJobInProgress
	}

	shell := proto.Shell
	if shell == "" {
		shell = model.DefaultShell
	}
	r.result = Result{Command: proto.Line}

	var cancel context.CancelFunc
	if proto.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		r.result.Err = err
		return err
	}

	cancelled := &atomic.Bool{}
	cmd := exec.CommandContext(ctx, shell, "-c", proto.Line)
	cmd.Dir = proto.Dir
	cmd.Env = proto.Env
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		cancelled.Store(true)
		return terminate(cmd.Process.Pid, proto.GracePeriod)
	}

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		cancel()
		_ = pr.Close()
		_ = pw.Close()
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		return err
	}
	// the child holds its own copy, EOF is seen once every writer is gone
	_ = pw.Close()

	slog.DebugContext(ctx, "command started", "pid", cmd.Process.Pid, "shell", shell)
	r.cmd = cmd
	r.stream = pr
	r.done = make(chan struct{})
	go r.wait(cmd, cancel, cancelled, r.done)
	return nil
}

func (r *Runner) wait(cmd *exec.Cmd, cancel context.CancelFunc, cancelled *atomic.Bool, done chan struct{}) {
	err := cmd.Wait()
	cancel()
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.result.Cancelled = cancelled.Load()
	r.cmd = nil
	close(done)
}

// Lines returns the combined output of the started command line by line.
// The sequence ends at EOF of the stream and can be consumed once; stopping
// early closes the read end of the pipe.
func (r *Runner) Lines() iter.Seq[string] {
	r.mx.Lock()
	stream := r.stream
	r.stream = nil
	r.mx.Unlock()

	return func(yield func(string) bool) {
		if stream == nil {
			return
		}
		defer func() {
			_ = stream.Close()
		}()
		br := bufio.NewReaderSize(stream, 64*1024)
		for {
			line, err := readLine(br)
			if line != "" {
				if !yield(normalize(line)) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					slog.Error("reading command output", "error", err)
				}
				return
			}
		}
	}
}

// Wait blocks until the started command exits and returns its Result.
func (r *Runner) Wait() Result {
	r.mx.RLock()
	done := r.done
	r.mx.RUnlock()
	if done != nil {
		<-done
	}
	return r.Result()
}

// Result returns a last command result, ErrJobNotStarted if nothing ran
// yet or the zero Err while the command is still running.
func (r *Runner) Result() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.result
}

func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(buf) >= maxLineSize {
				return string(buf), nil
			}
			continue
		}
		return string(buf), err
	}
}

func normalize(line string) string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return strings.ToValidUTF8(line, "�")
}

// terminate signals the whole process group so grandchildren holding the
// pipe die too.
func terminate(pid int, grace time.Duration) error {
	pgid := -pid
	if grace <= 0 {
		return unix.Kill(pgid, unix.SIGKILL)
	}
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
		return unix.Kill(pgid, unix.SIGKILL)
	}
	time.AfterFunc(grace, func() {
		_ = unix.Kill(pgid, unix.SIGKILL)
	})
	return nil
}
