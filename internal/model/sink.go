package model

import "context"

// Sink records a single Log Line of a job.
type Sink interface {
	Write(ctx context.Context, line string) error
}

type SinkCloser interface {
	Sink
	Close() error
}

// LineSubmitter is the remote log relay contract: it delivers one line tagged
// with the job identity.
type LineSubmitter interface {
	SubmitLine(ctx context.Context, jobName, line string) error
}
