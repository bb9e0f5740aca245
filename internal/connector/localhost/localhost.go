// Package localhost provides a host connector for containers running on
// the local machine, without an SSH hop.
package localhost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"

	"github.com/sirupsen/logrus"

	"github.com/lxcreach/lxcreach/internal/connector"
)

// Connector executes host-side commands on the local machine.
type Connector struct {
	shell     string
	shellArgs []string
	sudo      bool
}

// Option configures the local connector.
type Option func(*Connector)

// WithSudo prefixes privileged commands with sudo. Set it when the
// invoking user is not root but the container tooling requires root.
func WithSudo() Option {
	return func(c *Connector) {
		c.sudo = true
	}
}

// WithShell sets a custom shell for command execution.
func WithShell(shell string, args ...string) Option {
	return func(c *Connector) {
		c.shell = shell
		c.shellArgs = args
	}
}

// New creates a new local host connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		shell:     "/bin/sh",
		shellArgs: []string{"-c"},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect is a no-op for local connections.
func (c *Connector) Connect(ctx context.Context) error {
	return nil
}

// Execute runs cmd through the local shell and returns the result.
func (c *Connector) Execute(ctx context.Context, cmd string, opts ...connector.ExecOption) (*connector.Result, error) {
	eo := connector.ApplyExecOptions(opts)

	finalCmd := cmd
	if eo.Privileged && c.sudo {
		finalCmd = "sudo -n -- " + cmd
	}

	args := append(c.shellArgs, finalCmd)
	execCmd := exec.CommandContext(ctx, c.shell, args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	execCmd.Stdin = eo.Stdin

	logrus.Debugf("localhost: exec: %s", finalCmd)

	err := execCmd.Run()

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	if result.ExitCode != 0 && !eo.TolerantExit {
		return result, &connector.RemoteExecutionError{
			Command:  cmd,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}

	return result, nil
}

// Upload writes content from src to a local file at dst.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return fmt.Errorf("create file %s: %w", dst, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("write to %s: %w", dst, err)
	}

	return nil
}

// Download reads content from a local file at src into dst.
func (c *Connector) Download(ctx context.Context, src string, dst io.Writer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open file %s: %w", src, err)
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("read from %s: %w", src, err)
	}

	return nil
}

// Close is a no-op for local connections.
func (c *Connector) Close() error {
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	u, err := user.Current()
	if err != nil {
		return "local"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	if c.sudo {
		return fmt.Sprintf("local://%s@%s (sudo)", u.Username, hostname)
	}
	return fmt.Sprintf("local://%s@%s", u.Username, hostname)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
