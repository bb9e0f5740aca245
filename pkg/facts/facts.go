// Package facts gathers system information from inside a container.
package facts

import (
	"context"
	"strings"

	"github.com/lxcreach/lxcreach/internal/connector"
)

// Gather collects facts through the connector. Probes are tolerant:
// commands or files missing inside the container are skipped, not fatal.
func Gather(ctx context.Context, conn connector.Connector) (map[string]string, error) {
	facts := make(map[string]string)

	osInfo, err := gatherOSInfo(ctx, conn)
	if err != nil {
		return nil, err
	}
	for k, v := range osInfo {
		facts[k] = v
	}

	if hostname, err := gatherHostname(ctx, conn); err == nil && hostname != "" {
		facts["hostname"] = hostname
	}

	return facts, nil
}

// gatherOSInfo probes the distribution, architecture and kernel.
func gatherOSInfo(ctx context.Context, conn connector.Connector) (map[string]string, error) {
	info := make(map[string]string)

	result, err := conn.Execute(ctx, "cat /etc/os-release", connector.WithTolerantExit())
	if err != nil {
		return nil, err
	}
	if result.ExitCode == 0 {
		osRelease := parseOSRelease(result.Stdout)
		if id, ok := osRelease["ID"]; ok {
			info["distribution"] = id
		}
		if version, ok := osRelease["VERSION_ID"]; ok {
			info["distribution_version"] = version
		}
		if name, ok := osRelease["PRETTY_NAME"]; ok {
			info["os_name"] = name
		}
	}

	if result, err := conn.Execute(ctx, "uname -m", connector.WithTolerantExit()); err == nil && result.ExitCode == 0 {
		arch := strings.TrimSpace(result.Stdout)
		info["architecture"] = arch

		// Normalize architecture names
		switch arch {
		case "x86_64", "amd64":
			info["arch"] = "amd64"
		case "aarch64", "arm64":
			info["arch"] = "arm64"
		case "armv7l":
			info["arch"] = "arm"
		default:
			info["arch"] = arch
		}
	}

	// The kernel is shared with the host; still useful for diagnostics.
	if result, err := conn.Execute(ctx, "uname -r", connector.WithTolerantExit()); err == nil && result.ExitCode == 0 {
		info["kernel"] = strings.TrimSpace(result.Stdout)
	}

	return info, nil
}

// parseOSRelease parses /etc/os-release format.
func parseOSRelease(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			key := line[:idx]
			value := strings.Trim(line[idx+1:], "\"'")
			result[key] = value
		}
	}
	return result
}

// gatherHostname reads the container's hostname. Minimal containers may
// lack the hostname binary, so fall back to /etc/hostname.
func gatherHostname(ctx context.Context, conn connector.Connector) (string, error) {
	result, err := conn.Execute(ctx, "hostname", connector.WithTolerantExit())
	if err != nil {
		return "", err
	}
	if result.ExitCode == 0 {
		return strings.TrimSpace(result.Stdout), nil
	}

	result, err = conn.Execute(ctx, "cat /etc/hostname", connector.WithTolerantExit())
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(result.Stdout), nil
}
