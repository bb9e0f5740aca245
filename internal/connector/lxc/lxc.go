// Package lxc provides a connector for executing commands inside LXC
// containers by attaching into their namespace from the container's host.
package lxc

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lxcreach/lxcreach/internal/connector"
)

// Connector runs commands inside an LXC container through a host-side
// connector. Everything inside the container executes as root.
//
// The host connector can be anything that reaches the host shell: an SSH
// session for remote hosts, a local connector for containers on this
// machine.
type Connector struct {
	host      connector.Connector
	container string
	entrySudo bool
}

// Option configures the LXC connector.
type Option func(*Connector)

// WithEntrySudo controls whether the container-entry commands (lxc-attach,
// lxc-info, staging moves) are marked privileged on the host. Enabled by
// default; disable it for unprivileged containers managed directly by the
// login user. Whether "privileged" becomes a sudo prefix is the host
// connector's decision, so the two knobs compose:
//
//	host sudo | entry sudo | lxc-attach runs as
//	----------+------------+-------------------------------
//	false     | true       | login user (expected: root login)
//	false     | false      | login user (unprivileged containers)
//	true      | true       | sudo prefix applied
//	true      | false      | login user, sudo reserved for other commands
func WithEntrySudo(enabled bool) Option {
	return func(c *Connector) {
		c.entrySudo = enabled
	}
}

// New creates a connector for the named container reachable through host.
func New(host connector.Connector, container string, opts ...Option) *Connector {
	c := &Connector{
		host:      host,
		container: container,
		entrySudo: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// hostOpts builds the execution options for a host-side command.
func (c *Connector) hostOpts(extra ...connector.ExecOption) []connector.ExecOption {
	var opts []connector.ExecOption
	if c.entrySudo {
		opts = append(opts, connector.WithPrivileged())
	}
	return append(opts, extra...)
}

// Connect connects to the host and verifies the container is running.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.host.Connect(ctx); err != nil {
		return err
	}

	res, err := c.host.Execute(ctx, infoCommand(c.container, "-s"), c.hostOpts(connector.WithTolerantExit())...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		reason := strings.TrimSpace(res.Stderr)
		if reason == "" {
			reason = "container not found"
		}
		return &connector.ContainerEntryError{Container: c.container, Reason: reason}
	}
	if !strings.Contains(res.Stdout, "RUNNING") {
		return &connector.ContainerEntryError{Container: c.container, Reason: "container is not running"}
	}
	return nil
}

// Execute runs a shell command inside the container as root. Failures of
// the entry tool itself surface as *ContainerEntryError; a non-zero exit
// of the payload surfaces as *RemoteExecutionError unless the caller asks
// for tolerant exit handling.
func (c *Connector) Execute(ctx context.Context, cmd string, opts ...connector.ExecOption) (*connector.Result, error) {
	eo := connector.ApplyExecOptions(opts)

	hostCmd := attachCommand(c.container, cmd)
	logrus.Debugf("lxc: exec in %s: %s", c.container, hostCmd)

	hostOpts := c.hostOpts(connector.WithTolerantExit())
	if eo.Stdin != nil {
		hostOpts = append(hostOpts, connector.WithStdin(eo.Stdin))
	}

	res, err := c.host.Execute(ctx, hostCmd, hostOpts...)
	if err != nil {
		return res, err
	}

	if res.ExitCode != 0 && entryFailure(res.Stderr) {
		return res, &connector.ContainerEntryError{
			Container: c.container,
			Reason:    strings.TrimSpace(res.Stderr),
		}
	}
	if res.ExitCode != 0 && !eo.TolerantExit {
		return res, &connector.RemoteExecutionError{
			Command:  cmd,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	return res, nil
}

// containerPID returns the init PID of the running container. The
// container filesystem is reachable on the host under /proc/<pid>/root.
func (c *Connector) containerPID(ctx context.Context) (int, error) {
	res, err := c.host.Execute(ctx, infoCommand(c.container, "-p"), c.hostOpts(connector.WithTolerantExit())...)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		reason := strings.TrimSpace(res.Stderr)
		if reason == "" {
			reason = "cannot determine container init pid"
		}
		return 0, &connector.ContainerEntryError{Container: c.container, Reason: reason}
	}

	// lxc-info -p prints "PID:  12345".
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return 0, &connector.ContainerEntryError{Container: c.container, Reason: "empty pid from lxc-info"}
	}
	pid, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || pid <= 0 {
		return 0, &connector.ContainerEntryError{
			Container: c.container,
			Reason:    fmt.Sprintf("unparseable pid output %q", strings.TrimSpace(res.Stdout)),
		}
	}
	return pid, nil
}

// stagingPath returns a unique host-side path for a transfer in flight.
func stagingPath() string {
	return "/tmp/lxcreach-" + uuid.NewString()
}

// removeStaging deletes the staging file on the host, best effort. It
// runs even when the surrounding transfer was cancelled.
func (c *Connector) removeStaging(ctx context.Context, path string) {
	rm := shellescape.QuoteCommand([]string{"rm", "-f", path})
	cleanupCtx := context.WithoutCancel(ctx)
	if _, err := c.host.Execute(cleanupCtx, rm, c.hostOpts(connector.WithTolerantExit())...); err != nil {
		logrus.Debugf("lxc: staging cleanup of %s failed: %v", path, err)
	}
}

// Upload copies content into the container at dst. The content is staged
// on the host first, then moved through /proc/<pid>/root into the
// container filesystem with root ownership. The staging file is removed
// on success and on failure.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	pid, err := c.containerPID(ctx)
	if err != nil {
		return err
	}

	staging := stagingPath()
	logrus.Debugf("lxc: staging upload for %s via %s", dst, staging)

	if err := c.host.Upload(ctx, src, staging, 0600); err != nil {
		return &connector.StagingError{Path: staging, Op: "upload", Err: err}
	}
	defer c.removeStaging(ctx, staging)

	dest := fmt.Sprintf("/proc/%d/root%s", pid, dst)
	mv := shellescape.QuoteCommand([]string{"mv", staging, dest})
	if _, err := c.host.Execute(ctx, mv, c.hostOpts()...); err != nil {
		return &connector.StagingError{Path: staging, Op: "move into container", Err: err}
	}

	chmod := shellescape.QuoteCommand([]string{"chmod", fmt.Sprintf("%o", mode), dest})
	if _, err := c.host.Execute(ctx, chmod, c.hostOpts()...); err != nil {
		return fmt.Errorf("set mode on %s in container %s: %w", dst, c.container, err)
	}

	return nil
}

// Download copies the file at src inside the container into dst. The file
// is staged on the host through /proc/<pid>/root, made readable for the
// transfer user, pulled down, and the staging copy removed on success and
// on failure.
func (c *Connector) Download(ctx context.Context, src string, dst io.Writer) error {
	pid, err := c.containerPID(ctx)
	if err != nil {
		return err
	}

	staging := stagingPath()
	logrus.Debugf("lxc: staging download of %s via %s", src, staging)

	source := fmt.Sprintf("/proc/%d/root%s", pid, src)
	cp := shellescape.QuoteCommand([]string{"cp", source, staging})
	if _, err := c.host.Execute(ctx, cp, c.hostOpts()...); err != nil {
		return &connector.StagingError{Path: staging, Op: "copy out of container", Err: err}
	}
	defer c.removeStaging(ctx, staging)

	chmod := shellescape.QuoteCommand([]string{"chmod", "644", staging})
	if _, err := c.host.Execute(ctx, chmod, c.hostOpts()...); err != nil {
		return &connector.StagingError{Path: staging, Op: "make staging readable", Err: err}
	}

	if err := c.host.Download(ctx, staging, dst); err != nil {
		return &connector.StagingError{Path: staging, Op: "download", Err: err}
	}

	return nil
}

// Close terminates the host connection.
func (c *Connector) Close() error {
	return c.host.Close()
}

// String returns a description of the connection.
func (c *Connector) String() string {
	return fmt.Sprintf("lxc:%s via %s", c.container, c.host)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
