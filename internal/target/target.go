// Package target parses lxcreach target descriptors of the form
// "<ssh-host-spec>:<container-name>".
package target

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Target identifies an LXC container reachable through a host.
// Immutable once parsed.
type Target struct {
	// Host is the SSH-reachable machine running the container, or
	// "local" for containers on the machine lxcreach runs on.
	Host string

	// User is the SSH login user, when the descriptor carries one.
	User string

	// Port is the SSH port, or 0 when the descriptor does not set one.
	Port int

	// Container is the LXC container name on the host.
	Container string
}

// MalformedTargetError reports a descriptor that could not be parsed.
type MalformedTargetError struct {
	Descriptor string
	Reason     string
}

func (e *MalformedTargetError) Error() string {
	return fmt.Sprintf("malformed target %q: %s", e.Descriptor, e.Reason)
}

// containerName matches valid LXC container names. The character set also
// guarantees the name cannot break out of a shell-quoted command line.
var containerName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Parse splits a descriptor into its host and container parts. The
// container delimiter is the LAST colon, so host specs that embed a port
// number ("user@host:2222:ct") keep the port on the host side.
func Parse(descriptor string) (Target, error) {
	idx := strings.LastIndex(descriptor, ":")
	if idx < 0 {
		return Target{}, &MalformedTargetError{descriptor, "no container delimiter, expected host:container"}
	}

	hostSpec, container := descriptor[:idx], descriptor[idx+1:]
	if container == "" {
		return Target{}, &MalformedTargetError{descriptor, "empty container name"}
	}
	if !containerName.MatchString(container) {
		return Target{}, &MalformedTargetError{descriptor, "container name contains characters unsafe for shell quoting"}
	}

	t := Target{Container: container}

	if at := strings.LastIndex(hostSpec, "@"); at >= 0 {
		if at == 0 {
			return Target{}, &MalformedTargetError{descriptor, "empty user before @"}
		}
		t.User = hostSpec[:at]
		hostSpec = hostSpec[at+1:]
	}

	if c := strings.LastIndex(hostSpec, ":"); c >= 0 {
		port, err := strconv.Atoi(hostSpec[c+1:])
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, &MalformedTargetError{descriptor, fmt.Sprintf("invalid port %q in host spec", hostSpec[c+1:])}
		}
		t.Port = port
		hostSpec = hostSpec[:c]
	}

	if hostSpec == "" {
		return Target{}, &MalformedTargetError{descriptor, "empty host"}
	}
	t.Host = hostSpec

	return t, nil
}

// Local reports whether the target's host is the local machine.
func (t Target) Local() bool {
	return t.Host == "local"
}

// String reconstructs the descriptor the target was parsed from.
func (t Target) String() string {
	var b strings.Builder
	if t.User != "" {
		b.WriteString(t.User)
		b.WriteByte('@')
	}
	b.WriteString(t.Host)
	if t.Port != 0 {
		fmt.Fprintf(&b, ":%d", t.Port)
	}
	b.WriteByte(':')
	b.WriteString(t.Container)
	return b.String()
}
