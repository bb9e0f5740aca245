package lxc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/lxcreach/lxcreach/internal/connector"
)

// fakeHost is an in-memory host connector: Execute is answered by the
// respond callback, Upload/Download operate on the files map.
type fakeHost struct {
	execs     []execCall
	uploads   []string
	files     map[string][]byte
	respond   func(cmd string, eo connector.ExecOptions) (*connector.Result, error)
	uploadErr error
	closed    bool
}

type execCall struct {
	cmd string
	eo  connector.ExecOptions
}

func newFakeHost() *fakeHost {
	return &fakeHost{files: make(map[string][]byte)}
}

func (f *fakeHost) Connect(ctx context.Context) error { return nil }

func (f *fakeHost) Execute(ctx context.Context, cmd string, opts ...connector.ExecOption) (*connector.Result, error) {
	eo := connector.ApplyExecOptions(opts)
	f.execs = append(f.execs, execCall{cmd: cmd, eo: eo})
	if f.respond != nil {
		return f.respond(cmd, eo)
	}
	return &connector.Result{}, nil
}

func (f *fakeHost) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	f.files[dst] = data
	f.uploads = append(f.uploads, dst)
	return nil
}

func (f *fakeHost) Download(ctx context.Context, src string, dst io.Writer) error {
	data, ok := f.files[src]
	if !ok {
		return fmt.Errorf("open remote file %s: no such file", src)
	}
	_, err := dst.Write(data)
	return err
}

func (f *fakeHost) Close() error {
	f.closed = true
	return nil
}

func (f *fakeHost) String() string { return "fake://host" }

var _ connector.Connector = (*fakeHost)(nil)

// lastCmds returns the recorded command strings.
func (f *fakeHost) cmds() []string {
	out := make([]string, len(f.execs))
	for i, e := range f.execs {
		out[i] = e.cmd
	}
	return out
}

func (f *fakeHost) hasCmd(substr string) bool {
	for _, c := range f.cmds() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func TestConnectRunning(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		if cmd == "lxc-info -n webapp -s" {
			return &connector.Result{Stdout: "State:          RUNNING\n"}, nil
		}
		t.Fatalf("unexpected command %q", cmd)
		return nil, nil
	}

	c := New(host, "webapp")
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !host.execs[0].eo.Privileged {
		t.Error("state probe should be privileged by default")
	}
}

func TestConnectStopped(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{Stdout: "State:          STOPPED\n"}, nil
	}

	c := New(host, "webapp")
	err := c.Connect(t.Context())

	var entryErr *connector.ContainerEntryError
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected *ContainerEntryError, got %T: %v", err, err)
	}
	if entryErr.Container != "webapp" {
		t.Errorf("error names container %q", entryErr.Container)
	}
}

func TestConnectMissingContainer(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{
			ExitCode: 1,
			Stderr:   "lxc-info: webapp: tools/lxc_info.c: main: 98 webapp doesn't exist\n",
		}, nil
	}

	c := New(host, "webapp")
	err := c.Connect(t.Context())

	var entryErr *connector.ContainerEntryError
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected *ContainerEntryError, got %T: %v", err, err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{Stdout: "PRETTY_NAME=\"Debian GNU/Linux 12\"\n"}, nil
	}

	c := New(host, "webapp")
	res, err := c.Execute(t.Context(), Command([]string{"cat", "/etc/os-release"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "Debian") {
		t.Errorf("stdout not passed through: %q", res.Stdout)
	}

	want := "lxc-attach -n webapp -- /bin/sh -c 'cat /etc/os-release'"
	if host.execs[0].cmd != want {
		t.Errorf("host command = %q, want %q", host.execs[0].cmd, want)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{ExitCode: 2, Stderr: "grep: /etc/missing: No such file or directory\n"}, nil
	}

	c := New(host, "webapp")
	res, err := c.Execute(t.Context(), "grep foo /etc/missing")

	var execErr *connector.RemoteExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *RemoteExecutionError, got %T: %v", err, err)
	}
	if execErr.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "No such file") {
		t.Errorf("stderr not carried: %q", execErr.Stderr)
	}
	if res == nil || res.ExitCode != 2 {
		t.Error("result should be returned alongside the error")
	}
}

func TestExecuteTolerantExit(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{ExitCode: 1}, nil
	}

	c := New(host, "webapp")
	res, err := c.Execute(t.Context(), "test -e /etc/app.conf", connector.WithTolerantExit())
	if err != nil {
		t.Fatalf("tolerant execution should not error: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", res.ExitCode)
	}
}

func TestExecuteEntryFailure(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{
			ExitCode: 1,
			Stderr:   "lxc-attach: webapp: attach.c: lxc_attach: 1265 Failed to get init pid\n",
		}, nil
	}

	c := New(host, "webapp")
	_, err := c.Execute(t.Context(), "true")

	var entryErr *connector.ContainerEntryError
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected *ContainerEntryError, got %T: %v", err, err)
	}
	var execErr *connector.RemoteExecutionError
	if errors.As(err, &execErr) {
		t.Error("entry failure must not surface as RemoteExecutionError")
	}
}

func TestEntrySudoDisabled(t *testing.T) {
	host := newFakeHost()
	c := New(host, "webapp", WithEntrySudo(false))

	if _, err := c.Execute(t.Context(), "true"); err != nil {
		t.Fatal(err)
	}
	if host.execs[0].eo.Privileged {
		t.Error("entry sudo disabled, command should not be privileged")
	}
}

// pidResponder answers lxc-info pid queries and succeeds everything else.
func pidResponder(pid int) func(string, connector.ExecOptions) (*connector.Result, error) {
	return func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		if cmd == "lxc-info -n webapp -p" {
			return &connector.Result{Stdout: fmt.Sprintf("PID:            %d\n", pid)}, nil
		}
		return &connector.Result{}, nil
	}
}

func TestUpload(t *testing.T) {
	host := newFakeHost()
	host.respond = pidResponder(4242)

	c := New(host, "webapp")
	content := []byte("listen 8080\n")
	if err := c.Upload(t.Context(), bytes.NewReader(content), "/etc/app.conf", 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(host.uploads) != 1 {
		t.Fatalf("expected 1 staging upload, got %d", len(host.uploads))
	}
	staging := host.uploads[0]
	if !strings.HasPrefix(staging, "/tmp/lxcreach-") {
		t.Errorf("staging path %q outside expected prefix", staging)
	}
	if !bytes.Equal(host.files[staging], content) {
		t.Error("staged content does not match source")
	}

	if !host.hasCmd(fmt.Sprintf("mv %s /proc/4242/root/etc/app.conf", staging)) {
		t.Errorf("missing staging move, commands: %q", host.cmds())
	}
	if !host.hasCmd("chmod 644 /proc/4242/root/etc/app.conf") {
		t.Errorf("missing in-container chmod, commands: %q", host.cmds())
	}
	if !host.hasCmd("rm -f "+staging) {
		t.Errorf("staging file not cleaned up, commands: %q", host.cmds())
	}
}

func TestUploadMoveFailureCleansUp(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		switch {
		case cmd == "lxc-info -n webapp -p":
			return &connector.Result{Stdout: "PID: 4242\n"}, nil
		case strings.HasPrefix(cmd, "mv "):
			return &connector.Result{ExitCode: 1, Stderr: "mv: permission denied\n"},
				&connector.RemoteExecutionError{ExitCode: 1, Stderr: "mv: permission denied\n"}
		default:
			return &connector.Result{}, nil
		}
	}

	c := New(host, "webapp")
	err := c.Upload(t.Context(), strings.NewReader("data"), "/etc/app.conf", 0644)

	var stageErr *connector.StagingError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StagingError, got %T: %v", err, err)
	}
	if !host.hasCmd("rm -f /tmp/lxcreach-") {
		t.Errorf("staging file not cleaned up on failure, commands: %q", host.cmds())
	}
}

func TestUploadStagingFailure(t *testing.T) {
	host := newFakeHost()
	host.respond = pidResponder(4242)
	host.uploadErr = fmt.Errorf("no space left on device")

	c := New(host, "webapp")
	err := c.Upload(t.Context(), strings.NewReader("data"), "/etc/app.conf", 0644)

	var stageErr *connector.StagingError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StagingError, got %T: %v", err, err)
	}
}

func TestDownload(t *testing.T) {
	host := newFakeHost()
	content := []byte("VERSION_ID=12\n")
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		switch {
		case cmd == "lxc-info -n webapp -p":
			return &connector.Result{Stdout: "PID: 4242\n"}, nil
		case strings.HasPrefix(cmd, "cp /proc/4242/root/etc/os-release "):
			// Simulate the host-side copy into the staging file.
			staging := strings.Fields(cmd)[2]
			host.files[staging] = content
			return &connector.Result{}, nil
		default:
			return &connector.Result{}, nil
		}
	}

	c := New(host, "webapp")
	var buf bytes.Buffer
	if err := c.Download(t.Context(), "/etc/os-release", &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Errorf("downloaded content = %q, want %q", buf.Bytes(), content)
	}
	if !host.hasCmd("rm -f /tmp/lxcreach-") {
		t.Errorf("staging file not cleaned up, commands: %q", host.cmds())
	}
}

func TestDownloadCopyFailure(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		switch {
		case cmd == "lxc-info -n webapp -p":
			return &connector.Result{Stdout: "PID: 4242\n"}, nil
		case strings.HasPrefix(cmd, "cp "):
			return &connector.Result{ExitCode: 1, Stderr: "cp: cannot stat\n"},
				&connector.RemoteExecutionError{ExitCode: 1, Stderr: "cp: cannot stat\n"}
		default:
			return &connector.Result{}, nil
		}
	}

	c := New(host, "webapp")
	var buf bytes.Buffer
	err := c.Download(t.Context(), "/nope", &buf)

	var stageErr *connector.StagingError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StagingError, got %T: %v", err, err)
	}
}

func TestContainerPIDUnparseable(t *testing.T) {
	host := newFakeHost()
	host.respond = func(cmd string, eo connector.ExecOptions) (*connector.Result, error) {
		return &connector.Result{Stdout: "garbage\n"}, nil
	}

	c := New(host, "webapp")
	_, err := c.containerPID(t.Context())

	var entryErr *connector.ContainerEntryError
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected *ContainerEntryError, got %T: %v", err, err)
	}
}

func TestCloseClosesHost(t *testing.T) {
	host := newFakeHost()
	c := New(host, "webapp")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !host.closed {
		t.Error("host connection not closed")
	}
}
