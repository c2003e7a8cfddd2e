package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/grantgumina/kraken/internal/model"
)

const (
	MarkerExit      = "exit"
	MarkerCancelled = "cancelled"

	// DefaultMarkerTimeout bounds the wait for room in the remote queue for
	// the terminal marker.
	DefaultMarkerTimeout = 30 * time.Second
)

// waitingSink accepts a line even when it has to wait for room.
type waitingSink interface {
	WriteWait(ctx context.Context, line string) error
}

// Header returns the first line of every transcript.
func Header(job string, now time.Time, command string) string {
	command = strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(command)
	return fmt.Sprintf("Kraken - Job - %s - %s - $> %s", job, now.UTC().Format(time.RFC3339), command)
}

// IsMarker reports whether line terminates a transcript.
func IsMarker(line string) bool {
	return line == MarkerExit || line == MarkerCancelled
}

// Writer sends every line to the local sink and then to the remote one. A
// failure of either is logged and never stops the stream.
type Writer struct {
	job           string
	local         model.Sink
	remote        model.Sink
	now           func() time.Time
	markerTimeout time.Duration
}

// NewWriter returns a writer for job; remote may be nil.
func NewWriter(job string, local, remote model.Sink) *Writer {
	return &Writer{
		job:           job,
		local:         local,
		remote:        remote,
		now:           time.Now,
		markerTimeout: DefaultMarkerTimeout,
	}
}

// WithClock replaces the clock used for the header.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// WithMarkerTimeout sets how long Finish waits for the remote sink to accept
// the terminal marker. Non positive values keep the default.
func (w *Writer) WithMarkerTimeout(d time.Duration) *Writer {
	if d > 0 {
		w.markerTimeout = d
	}
	return w
}

func (w *Writer) Header(ctx context.Context, command string) {
	w.emit(ctx, Header(w.job, w.now(), command))
}

func (w *Writer) Line(ctx context.Context, line string) {
	w.emit(ctx, line)
}

// Finish writes the terminal marker. Unlike other lines the marker waits
// for room in the remote sink, up to the marker timeout.
func (w *Writer) Finish(ctx context.Context, marker string) {
	w.writeLocal(ctx, marker)
	ws, ok := w.remote.(waitingSink)
	if !ok {
		w.writeRemote(ctx, marker)
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.markerTimeout)
	defer cancel()
	if err := ws.WriteWait(wctx, marker); err != nil {
		slog.WarnContext(ctx, "queueing remote terminal marker failed", "job", w.job, "error", err)
	}
}

func (w *Writer) emit(ctx context.Context, line string) {
	w.writeLocal(ctx, line)
	w.writeRemote(ctx, line)
}

func (w *Writer) writeLocal(ctx context.Context, line string) {
	if err := w.local.Write(ctx, line); err != nil {
		slog.ErrorContext(ctx, "writing local log failed", "job", w.job, "error", err)
	}
}

func (w *Writer) writeRemote(ctx context.Context, line string) {
	if w.remote == nil {
		return
	}
	if err := w.remote.Write(ctx, line); err != nil {
		slog.WarnContext(ctx, "queueing remote log failed", "job", w.job, "error", err)
	}
}
