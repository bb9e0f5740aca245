// Package connector defines the interface for executing commands and
// moving files on target systems.
package connector

import (
	"context"
	"io"
)

// Result holds the output from command execution. Stdout and stderr are
// carried verbatim so callers see the remote process diagnostics
// unchanged.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecOptions holds per-execution settings. Connectors read them through
// the options passed to Execute.
type ExecOptions struct {
	// Privileged marks the command as requiring host-level privilege
	// elevation. Whether that translates into a sudo prefix is decided
	// by the connector's own configuration.
	Privileged bool

	// TolerantExit suppresses the RemoteExecutionError on non-zero exit.
	// The caller inspects Result.ExitCode itself, e.g. for "does this
	// file exist" style probes.
	TolerantExit bool

	// Stdin, when set, is streamed to the remote process.
	Stdin io.Reader
}

// ExecOption adjusts how a single command execution is performed.
type ExecOption func(*ExecOptions)

// WithPrivileged marks the command as requiring privilege elevation.
func WithPrivileged() ExecOption {
	return func(o *ExecOptions) {
		o.Privileged = true
	}
}

// WithTolerantExit lets a non-zero exit code pass through as a plain
// Result instead of a RemoteExecutionError.
func WithTolerantExit() ExecOption {
	return func(o *ExecOptions) {
		o.TolerantExit = true
	}
}

// WithStdin streams r to the remote process's standard input.
func WithStdin(r io.Reader) ExecOption {
	return func(o *ExecOptions) {
		o.Stdin = r
	}
}

// ApplyExecOptions collects the options into a single settings record.
func ApplyExecOptions(opts []ExecOption) ExecOptions {
	var o ExecOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Connector is the interface for connecting to and executing commands on
// targets. A connector owns its connection exclusively; commands issued
// through the same connector are serialized.
type Connector interface {
	// Connect establishes a connection to the target.
	Connect(ctx context.Context) error

	// Execute runs a shell command on the target and returns the result.
	// A non-zero exit code surfaces as a *RemoteExecutionError unless
	// WithTolerantExit is given; the Result is returned either way.
	Execute(ctx context.Context, cmd string, opts ...ExecOption) (*Result, error)

	// Upload copies content from src to a file at dst on the target.
	Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error

	// Download copies the file at src on the target into dst.
	Download(ctx context.Context, src string, dst io.Writer) error

	// Close terminates the connection.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}
