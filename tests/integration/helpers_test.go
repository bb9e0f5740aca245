package integration

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// execInContainer runs a command in the test container and returns stdout
func execInContainer(ctx context.Context, container testcontainers.Container, cmd []string) (int, string, error) {
	exitCode, reader, err := container.Exec(ctx, cmd)
	if err != nil {
		return exitCode, "", err
	}

	// Demux the Docker stream (stdout/stderr are multiplexed)
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, reader)

	return exitCode, stdout.String(), nil
}

// assertFileContains checks that a file in the test container contains
// all expected substrings
func assertFileContains(t *testing.T, ctx context.Context, container testcontainers.Container, path string, expected []string) {
	t.Helper()
	exitCode, content, err := execInContainer(ctx, container, []string{"cat", path})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode, "failed to read file %s", path)

	for _, substr := range expected {
		assert.Contains(t, content, substr, "file %s should contain %q", path, substr)
	}
}

// assertNoStagingLeftovers checks that no lxcreach staging files remain
// on the host after a transfer, successful or not
func assertNoStagingLeftovers(t *testing.T, ctx context.Context, container testcontainers.Container) {
	t.Helper()
	exitCode, out, err := execInContainer(ctx, container, []string{"sh", "-c", "ls /tmp/lxcreach-* 2>/dev/null | wc -l"})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode)
	assert.Equal(t, "0", strings.TrimSpace(out), "staging files left on host")
}
