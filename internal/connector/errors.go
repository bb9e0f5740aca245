package connector

import (
	"fmt"
	"strings"
)

// ConnectionError reports an unreachable host or failed authentication.
// The connector never retries; retry policy belongs to the caller.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ContainerEntryError reports that the container-entry tool could not
// attach: the container is stopped, missing, or the tool itself failed.
// Distinct from a failure of the payload command, which surfaces as a
// RemoteExecutionError.
type ContainerEntryError struct {
	Container string
	Reason    string
}

func (e *ContainerEntryError) Error() string {
	return fmt.Sprintf("cannot enter container %q: %s", e.Container, e.Reason)
}

// RemoteExecutionError reports a payload command that exited non-zero.
// Stderr is carried verbatim for caller inspection.
type RemoteExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteExecutionError) Error() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, s)
	}
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}

// StagingError reports a failure to create, fill, or move the host-side
// staging file used during container file transfer.
type StagingError struct {
	Path string
	Op   string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}
