// Package sshhost provides a connector that executes commands on a remote
// host over SSH and moves files with SFTP.
package sshhost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/kevinburke/ssh_config"
	"github.com/pkg/sftp"

	"github.com/lxcreach/lxcreach/internal/connector"
)

// Config holds the connection settings for one host session. Every
// connector instance receives its own copy; there is no process-wide
// option state.
type Config struct {
	// Host is the hostname or IP address to dial. May be an alias from
	// the user's OpenSSH client config, in which case HostName, User,
	// Port and IdentityFile are resolved from there when unset here.
	Host string

	// Port is the SSH port. 0 means resolve from ssh_config, then 22.
	Port int

	// User is the login user. Empty means resolve from ssh_config.
	User string

	// KeyFile is the path to a private key file.
	KeyFile string

	// Password enables password authentication and, when Sudo is set,
	// feeds sudo's password prompt.
	Password string

	// Sudo prefixes privileged commands with sudo. Set it when the login
	// user is not root but the host-side container tooling requires root.
	Sudo bool

	// Timeout bounds the SSH transport dial and handshake. It does not
	// bound the remote process.
	Timeout time.Duration
}

// sshConfigGet resolves an OpenSSH client config key for a host. Hook for
// tests.
var sshConfigGet = ssh_config.Get

// Connector executes commands on a single host over SSH. Commands are
// serialized: each Execute opens a fresh session on the shared client,
// one at a time.
type Connector struct {
	cfg Config

	mu       sync.Mutex
	resolved Config
	client   *ssh.Client
	sftpc    *sftp.Client
}

// New creates a connector for the host described by cfg. The connection
// is dialed lazily on first use.
func New(cfg Config) *Connector {
	return &Connector{cfg: cfg}
}

// resolve fills unset fields from the user's OpenSSH client config and
// applies defaults. Explicit config always wins.
func (c *Connector) resolve() Config {
	cfg := c.cfg

	if cfg.User == "" {
		cfg.User = sshConfigGet(cfg.Host, "User")
	}
	if cfg.Port == 0 {
		if p, err := strconv.Atoi(sshConfigGet(cfg.Host, "Port")); err == nil && p > 0 {
			cfg.Port = p
		}
	}
	if cfg.KeyFile == "" {
		if id := sshConfigGet(cfg.Host, "IdentityFile"); id != "" && id != ssh_config.Default("IdentityFile") {
			cfg.KeyFile = expandHome(id)
		}
	}
	if hn := sshConfigGet(cfg.Host, "HostName"); hn != "" {
		cfg.Host = hn
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return cfg
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// authMethods builds the SSH authentication chain: explicit key, then
// password, then the local SSH agent when one is available.
func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable authentication method for %s", cfg.Host)
	}
	return methods, nil
}

// Connect dials the host. Reconnecting an already connected connector is
// a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connector) connectLocked(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	cfg := c.resolve()

	auth, err := authMethods(cfg)
	if err != nil {
		return &connector.ConnectionError{Host: cfg.Host, Err: err}
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.Timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	logrus.Debugf("sshhost: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &connector.ConnectionError{Host: cfg.Host, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return &connector.ConnectionError{Host: cfg.Host, Err: err}
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.resolved = cfg
	return nil
}

// Execute runs cmd on the host. With WithPrivileged and Sudo configured,
// the command gets a sudo prefix; the configured password, when present,
// is written to sudo's stdin.
func (c *Connector) Execute(ctx context.Context, cmd string, opts ...connector.ExecOption) (*connector.Result, error) {
	eo := connector.ApplyExecOptions(opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, &connector.ConnectionError{Host: c.resolved.Host, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close()

	finalCmd := cmd
	stdin := eo.Stdin
	if eo.Privileged && c.resolved.Sudo {
		if c.resolved.Password != "" {
			finalCmd = "sudo -S -p '' -- " + cmd
			pw := strings.NewReader(c.resolved.Password + "\n")
			if stdin != nil {
				stdin = io.MultiReader(pw, stdin)
			} else {
				stdin = pw
			}
		} else {
			finalCmd = "sudo -n -- " + cmd
		}
	}
	session.Stdin = stdin

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logrus.Debugf("sshhost: exec on %s: %s", c.resolved.Host, finalCmd)

	// Closing the session on cancellation tears down the channel so Run
	// returns. Best effort: the remote process may outlive the channel.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()
	runErr := session.Run(finalCmd)
	close(done)

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &connector.ConnectionError{Host: c.resolved.Host, Err: fmt.Errorf("remote execution: %w", runErr)}
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

// sftpLocked lazily opens the SFTP subsystem on the existing client.
func (c *Connector) sftpLocked() (*sftp.Client, error) {
	if c.sftpc != nil {
		return c.sftpc, nil
	}
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, &connector.ConnectionError{Host: c.resolved.Host, Err: fmt.Errorf("open sftp subsystem: %w", err)}
	}
	c.sftpc = sc
	return sc, nil
}

// Upload writes content from src to a file at dst on the host filesystem.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	sc, err := c.sftpLocked()
	if err != nil {
		return err
	}

	f, err := sc.Create(dst)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", dst, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("write remote file %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close remote file %s: %w", dst, err)
	}
	if err := sc.Chmod(dst, os.FileMode(mode)); err != nil {
		return fmt.Errorf("chmod remote file %s: %w", dst, err)
	}
	return nil
}

// Download reads the file at src on the host filesystem into dst.
func (c *Connector) Download(ctx context.Context, src string, dst io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	sc, err := c.sftpLocked()
	if err != nil {
		return err
	}

	f, err := sc.Open(src)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", src, err)
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("read remote file %s: %w", src, err)
	}
	return nil
}

// Close tears down the SFTP subsystem and the SSH connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.sftpc != nil {
		if err := c.sftpc.Close(); err != nil {
			firstErr = err
		}
		c.sftpc = nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.client = nil
	}
	return firstErr
}

// String returns a description of the connection.
func (c *Connector) String() string {
	cfg := c.resolve()
	if cfg.Sudo {
		return fmt.Sprintf("ssh://%s@%s:%d (sudo)", cfg.User, cfg.Host, cfg.Port)
	}
	return fmt.Sprintf("ssh://%s@%s:%d", cfg.User, cfg.Host, cfg.Port)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
