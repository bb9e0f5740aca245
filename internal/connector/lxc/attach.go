package lxc

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Every in-container command crosses two shell boundaries: the host shell
// that runs the command string handed to the host connector, and the
// /bin/sh spawned by lxc-attach inside the container. Commands are built
// inside-out with exactly one quoting transform per boundary, so payload
// arguments survive both shells unchanged.

// attachCommand returns the host-side command line that runs cmd inside
// the container. cmd is an in-container shell command; lxc-attach always
// executes it as root, there is no in-container user selection.
func attachCommand(container, cmd string) string {
	return shellescape.QuoteCommand([]string{
		"lxc-attach", "-n", container, "--", "/bin/sh", "-c", cmd,
	})
}

// infoCommand returns the host-side command line for an lxc-info query.
func infoCommand(container string, flag string) string {
	return shellescape.QuoteCommand([]string{"lxc-info", "-n", container, flag})
}

// Command joins argv into a single in-container shell command, quoted so
// word splitting, globbing and variable expansion inside the container
// shell are suppressed.
func Command(argv []string) string {
	return shellescape.QuoteCommand(argv)
}

// entryFailure reports whether stderr comes from the container-entry tool
// itself rather than from the payload command. lxc prefixes its own
// diagnostics with the tool name.
func entryFailure(stderr string) bool {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "lxc-attach:") || strings.HasPrefix(line, "lxc-info:") {
			return true
		}
	}
	return false
}
