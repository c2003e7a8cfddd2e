package service

// Package service implements the job execution and log relay engine.
//
// Overview
// A Controller runs in the invoking `kraken new job` process. It computes the
// Job Identity, creates the remote Job Record and detaches a daemon: the same
// binary re-executed as the hidden `_daemon` subcommand in a new session. The
// daemon reads its Spec from stdin and runs exactly one Job.
//
// A Job owns a Runner, a Writer and a Completion:
//   - Runner is a thin wrapper around os/exec: starts `sh -c <command>` with
//     stdout and stderr sharing one pipe and exposes the combined output as
//     an iterator of lines
//   - Writer writes every line to the FileSink first and then hands it to
//     the Relay
//   - Relay is a bounded queue consumed by a single goroutine which submits
//     lines to the remote service in order; failures are logged and dropped
//   - Completion is closed once the terminal marker has been written
//
// Data flow:
//
//	Controller            daemon: Job{name}        Runner{cmd}      Writer
//	    |                       |                       |               |
//	create job record           |                       |               |
//	detach ---- Spec ---------->| Start() ------------->| exec.Start    |
//	    |                       | header -------------------------------->| FileSink, Relay
//	    |                       |<------ Lines() -------|               |
//	    |                       | line ---------------------------------->| FileSink, Relay
//	    |                       |<------ Wait() --------| (EOF, exit)   |
//	    |                       | "exit"|"cancelled" -------------------->| FileSink, Relay
//	    |                       | Completion.finish     |               |
//
// Invariants:
//   - One Job per daemon process, one worker goroutine per Job plus the relay
//     consumer.
//   - The header precedes every captured line and the terminal marker follows
//     all of them, in both sinks.
//   - A local write never waits for, nor depends on, a remote submission.
//   - Completion transitions exactly once.
//   - The .out file holds the transcript only; daemon diagnostics go to .err.
