// Package main is the entrypoint for the lxcreach CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lxcreach/lxcreach/internal/connector"
	"github.com/lxcreach/lxcreach/internal/connector/localhost"
	"github.com/lxcreach/lxcreach/internal/connector/lxc"
	"github.com/lxcreach/lxcreach/internal/connector/sshhost"
	"github.com/lxcreach/lxcreach/internal/inventory"
	"github.com/lxcreach/lxcreach/internal/output"
	"github.com/lxcreach/lxcreach/internal/target"
	"github.com/lxcreach/lxcreach/pkg/facts"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	debug         bool
	noColor       bool
	inventoryPath string
	flagUser      string
	flagPort      int
	flagKey       string
	flagPassword  string
	flagSudo      bool
	flagEntrySudo bool
	flagTimeout   time.Duration
)

var (
	inv *inventory.Inventory
	out *output.Output
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lxcreach",
	Short: "Run commands and move files inside LXC containers over SSH",
	Long: `lxcreach reaches into LXC (not LXD) containers by connecting to the
container's host over SSH and attaching into the container's namespace.
Commands inside the container always run as root.

Targets are written as host:container, where the host part may carry an
SSH user and port:

  lxcreach exec build01:webapp -- cat /etc/os-release
  lxcreach exec deploy@build01:2222:webapp -- uptime
  lxcreach put build01:webapp ./app.conf /etc/app.conf

Containers on the local machine are reached with the host "local".`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logrus.SetOutput(os.Stderr)
		if debug {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}

		out = output.New(os.Stdout)
		out.SetColor(!noColor)
		out.SetDebug(debug)

		if inventoryPath != "" {
			loaded, err := inventory.Load(inventoryPath)
			if err != nil {
				return err
			}
			inv = loaded
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&inventoryPath, "inventory", "", "YAML file with per-host connection options")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "SSH login user")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "p", 0, "SSH port")
	rootCmd.PersistentFlags().StringVarP(&flagKey, "key", "i", "", "Path to SSH private key")
	rootCmd.PersistentFlags().StringVar(&flagPassword, "password", "", "SSH password (also feeds sudo when needed)")
	rootCmd.PersistentFlags().BoolVar(&flagSudo, "sudo", false, "Prefix privileged host commands with sudo")
	rootCmd.PersistentFlags().BoolVar(&flagEntrySudo, "attach-sudo", true, "Mark container-entry commands as privileged")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "SSH transport timeout (default 30s)")

	// Add subcommands
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(factsCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, closing session...")
		cancel()
	}()

	return ctx, cancel
}

// buildConnector parses the descriptor and assembles the connector stack
// for it. Option precedence: flags over descriptor over inventory.
func buildConnector(cmd *cobra.Command, descriptor string) (*lxc.Connector, target.Target, error) {
	tgt, err := target.Parse(descriptor)
	if err != nil {
		return nil, target.Target{}, err
	}

	opts := inv.Lookup(tgt.Host)
	if tgt.User != "" {
		opts.User = tgt.User
	}
	if tgt.Port != 0 {
		opts.Port = tgt.Port
	}
	if cmd.Flags().Changed("user") {
		opts.User = flagUser
	}
	if cmd.Flags().Changed("port") {
		opts.Port = flagPort
	}
	if cmd.Flags().Changed("key") {
		opts.KeyFilename = flagKey
	}
	if cmd.Flags().Changed("password") {
		opts.Password = flagPassword
	}
	if cmd.Flags().Changed("sudo") {
		opts.Sudo = flagSudo
	}

	entrySudo := true
	if opts.AttachSudo != nil {
		entrySudo = *opts.AttachSudo
	}
	if cmd.Flags().Changed("attach-sudo") {
		entrySudo = flagEntrySudo
	}

	var host connector.Connector
	if tgt.Local() {
		var localOpts []localhost.Option
		if opts.Sudo {
			localOpts = append(localOpts, localhost.WithSudo())
		}
		host = localhost.New(localOpts...)
	} else {
		host = sshhost.New(sshhost.Config{
			Host:     tgt.Host,
			Port:     opts.Port,
			User:     opts.User,
			KeyFile:  opts.KeyFilename,
			Password: opts.Password,
			Sudo:     opts.Sudo,
			Timeout:  flagTimeout,
		})
	}

	return lxc.New(host, tgt.Container, lxc.WithEntrySudo(entrySudo)), tgt, nil
}

// execCmd runs a command inside the container
var execCmd = &cobra.Command{
	Use:   "exec <host:container> -- <command> [args...]",
	Short: "Run a command inside a container",
	Long: `Run a command as root inside the container. The command's stdout and
stderr are passed through verbatim, and its exit code becomes lxcreach's
exit code.

Examples:
  lxcreach exec build01:webapp -- cat /etc/os-release
  lxcreach exec --sudo build01:webapp -- systemctl status nginx`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 && dash != 1 {
		return fmt.Errorf("expected exactly one target before --, got %d arguments", dash)
	}
	descriptor := args[0]
	argv := args[1:]

	conn, _, err := buildConnector(cmd, descriptor)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	res, err := conn.Execute(ctx, lxc.Command(argv), connector.WithTolerantExit())
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)

	if res.ExitCode != 0 {
		conn.Close()
		os.Exit(res.ExitCode)
	}
	return nil
}

// putCmd uploads a file into the container
var putCmd = &cobra.Command{
	Use:   "put <host:container> <local-path> <container-path>",
	Short: "Upload a file into a container",
	Long: `Copy a local file into the container filesystem. The file is staged on
the host and moved into the container with root ownership; the staging
copy is removed afterwards.`,
	Args: cobra.ExactArgs(3),
	RunE: runPut,
}

func runPut(cmd *cobra.Command, args []string) error {
	descriptor, localPath, containerPath := args[0], args[1], args[2]

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}

	conn, tgt, err := buildConnector(cmd, descriptor)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	if err := conn.Upload(ctx, f, containerPath, uint32(info.Mode().Perm())); err != nil {
		return err
	}

	out.Status(tgt.String(), true, fmt.Sprintf("%s uploaded to %s", localPath, containerPath))
	return nil
}

// getCmd downloads a file from the container
var getCmd = &cobra.Command{
	Use:   "get <host:container> <container-path> <local-path>",
	Short: "Download a file from a container",
	Args:  cobra.ExactArgs(3),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	descriptor, containerPath, localPath := args[0], args[1], args[2]

	conn, tgt, err := buildConnector(cmd, descriptor)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}

	if err := conn.Download(ctx, containerPath, f); err != nil {
		f.Close()
		os.Remove(localPath)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close local file: %w", err)
	}

	out.Status(tgt.String(), true, fmt.Sprintf("%s downloaded to %s", containerPath, localPath))
	return nil
}

// checkCmd verifies the container is reachable and running
var checkCmd = &cobra.Command{
	Use:   "check <host:container>",
	Short: "Check that a container is reachable and running",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	conn, tgt, err := buildConnector(cmd, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		out.Status(tgt.String(), false, err.Error())
		conn.Close()
		os.Exit(1)
	}

	out.Status(tgt.String(), true, "running")
	return nil
}

// factsCmd gathers facts from inside the container
var factsCmd = &cobra.Command{
	Use:   "facts <host:container>",
	Short: "Gather system facts from inside a container",
	Args:  cobra.ExactArgs(1),
	RunE:  runFacts,
}

func runFacts(cmd *cobra.Command, args []string) error {
	conn, _, err := buildConnector(cmd, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	gathered, err := facts.Gather(ctx, conn)
	if err != nil {
		return err
	}

	out.Facts(gathered)
	return nil
}
