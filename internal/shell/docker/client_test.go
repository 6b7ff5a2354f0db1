package docker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoDocker(t *testing.T) Client {
	t.Helper()
	cli, err := NewDockerClient("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

func cleanupContainer(t *testing.T, cli Client, containerID string) {
	t.Helper()
	ctx := context.Background()
	timeout := 5 * time.Second
	cli.StopContainer(ctx, containerID, &timeout)
	cli.RemoveContainer(ctx, containerID, RemoveOptions{Force: true, RemoveVolumes: true})
}

// Test container name prefix to identify test containers
const testPrefix = "reflow-test-"

// =============================================================================
// Connection Tests
// =============================================================================

func TestPing_Success(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	assert.NoError(t, cli.Ping(context.Background()))
}

// =============================================================================
// Container Lifecycle Tests
// =============================================================================

func TestContainerLifecycle(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	exists, err := cli.ImageExists(ctx, "alpine:latest")
	require.NoError(t, err)
	if !exists {
		t.Skip("alpine:latest not present locally")
	}

	name := testPrefix + "lifecycle"
	cleanupContainer(t, cli, name)

	id, err := cli.CreateContainer(ctx, ContainerSpec{
		Name:    name,
		Image:   "alpine:latest",
		Command: []string{"sh", "-c", "echo hello; sleep 300"},
		Env:     map[string]string{"GREETING": "hello"},
		Labels:  map[string]string{"io.reflow.test": "true"},
		Ports:   []PortBinding{{ContainerPort: 8080, HostIP: "127.0.0.1"}},
	})
	require.NoError(t, err)
	defer cleanupContainer(t, cli, id)

	_, err = cli.CreateContainer(ctx, ContainerSpec{Name: name, Image: "alpine:latest"})
	assert.True(t, errors.Is(err, ErrContainerAlreadyExists))

	require.NoError(t, cli.StartContainer(ctx, id))

	info, err := cli.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Running())
	assert.Equal(t, name, info.Name)
	assert.Contains(t, info.Env, "GREETING=hello")
	assert.NotZero(t, info.HostPortFor(8080), "ephemeral host port assigned")

	listed, err := cli.ListContainers(ctx, ListOptions{Filters: map[string]string{"label": "io.reflow.test=true"}})
	require.NoError(t, err)
	assert.NotEmpty(t, listed)

	err = cli.RemoveContainer(ctx, id, RemoveOptions{})
	assert.True(t, errors.Is(err, ErrContainerRunning))

	timeout := time.Second
	require.NoError(t, cli.RestartContainer(ctx, id, &timeout))

	logs, err := cli.ContainerLogs(ctx, id, LogOptions{Tail: "10"})
	require.NoError(t, err)
	data, _ := io.ReadAll(logs)
	logs.Close()
	assert.Contains(t, string(data), "hello")

	require.NoError(t, cli.StopContainer(ctx, id, &timeout))
	require.NoError(t, cli.RemoveContainer(ctx, id, RemoveOptions{}))

	_, err = cli.InspectContainer(ctx, id)
	assert.True(t, errors.Is(err, ErrContainerNotFound))
}

func TestStartContainer_NotFound(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	err := cli.StartContainer(context.Background(), "nonexistent-container-12345")
	assert.True(t, errors.Is(err, ErrContainerNotFound))
}

func TestImageExists_False(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	exists, err := cli.ImageExists(context.Background(), "reflow/definitely-not-here:nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuildImage(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	exists, err := cli.ImageExists(ctx, "alpine:latest")
	require.NoError(t, err)
	if !exists {
		t.Skip("alpine:latest not present locally")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile.reflow"), []byte("FROM alpine:latest\nRUN echo built\n"), 0o644))

	var lines []string
	err = cli.BuildImage(ctx, BuildSpec{
		ContextDir: dir,
		Dockerfile: "Dockerfile.reflow",
		Tag:        "reflow/test-build:latest",
	}, func(line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.NotEmpty(t, lines)

	exists, err = cli.ImageExists(ctx, "reflow/test-build:latest")
	require.NoError(t, err)
	assert.True(t, exists)
}

// =============================================================================
// Build Stream Tests
// =============================================================================

func TestDecodeBuildStream(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM node:20-alpine\n"}
{"status":"Pulling fs layer","id":"abc","progress":"[==>   ]"}
{"aux":{"ID":"sha256:123"}}
{"stream":"\n"}
`
	var lines []string
	err := decodeBuildStream(strings.NewReader(stream), func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Step 1/2 : FROM node:20-alpine",
		"abc Pulling fs layer [==>   ]",
		"image id: sha256:123",
	}, lines)
}

func TestDecodeBuildStream_Error(t *testing.T) {
	stream := `{"stream":"Step 1/2\n"}
{"errorDetail":{"message":"npm ERR! missing script: build"},"error":"npm ERR! missing script: build"}
`
	err := decodeBuildStream(strings.NewReader(stream), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing script")
}

func TestDecodeBuildStream_Garbage(t *testing.T) {
	err := decodeBuildStream(strings.NewReader("not json"), nil)
	assert.Error(t, err)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestDockerError_Error(t *testing.T) {
	err := NewDockerError("StartContainer", "container", "abc123", "container not found", ErrContainerNotFound)
	assert.Equal(t, "StartContainer container abc123: container not found", err.Error())

	err = NewDockerError("Ping", "", "", "unreachable", ErrConnectionFailed)
	assert.Equal(t, "Ping: unreachable", err.Error())
}

func TestDockerError_Unwrap(t *testing.T) {
	err := NewDockerError("Ping", "", "", "unreachable", ErrConnectionFailed)
	assert.True(t, errors.Is(err, ErrConnectionFailed))
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsUnavailable(errors.New("other")))
}

func TestContainerInfo_HostPortFor(t *testing.T) {
	info := &ContainerInfo{Ports: []PortBinding{
		{ContainerPort: 3000, HostPort: 0},
		{ContainerPort: 3000, HostPort: 49153},
		{ContainerPort: 9229, HostPort: 49154},
	}}
	assert.Equal(t, 49153, info.HostPortFor(3000))
	assert.Equal(t, 0, info.HostPortFor(8080))
}
