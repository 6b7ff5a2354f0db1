// Package dockertest provides an in-memory docker.Client for tests.
package dockertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/reflow/internal/shell/docker"
)

// Operation names accepted by FailOn.
const (
	OpPing    = "Ping"
	OpBuild   = "BuildImage"
	OpCreate  = "CreateContainer"
	OpStart   = "StartContainer"
	OpStop    = "StopContainer"
	OpRestart = "RestartContainer"
	OpRemove  = "RemoveContainer"
	OpInspect = "InspectContainer"
	OpList    = "ListContainers"
	OpLogs    = "ContainerLogs"
)

// Fake is a thread-safe in-memory container runtime. Containers get
// sequential IDs and ephemeral host ports starting at 49153.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*docker.ContainerInfo
	images     map[string]bool
	builds     []docker.BuildSpec
	calls      []string
	errs       map[string]error
	nextID     int
	nextPort   int

	// startStatus is the status a started container reports.
	startStatus docker.ContainerStatus

	// BuildHook runs at the start of every BuildImage, outside the lock.
	BuildHook func(spec docker.BuildSpec) error

	// Logs is returned by ContainerLogs.
	Logs string
}

var _ docker.Client = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		containers:  make(map[string]*docker.ContainerInfo),
		images:      make(map[string]bool),
		errs:        make(map[string]error),
		nextPort:    49153,
		startStatus: docker.ContainerStatusRunning,
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// CrashOnStart makes started containers report exited, as an app that dies
// at boot would.
func (f *Fake) CrashOnStart(crash bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if crash {
		f.startStatus = docker.ContainerStatusExited
	} else {
		f.startStatus = docker.ContainerStatusRunning
	}
}

// AddImage registers an image as present locally.
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// AddContainer registers a container directly and returns its ID.
func (f *Fake) AddContainer(info docker.ContainerInfo) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info.ID == "" {
		f.nextID++
		info.ID = fmt.Sprintf("fake%04d", f.nextID)
	}
	c := info
	f.containers[c.ID] = &c
	return c.ID
}

// SetStatus changes the status of a container, simulating an external event.
func (f *Fake) SetStatus(id string, status docker.ContainerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Status = status
		c.State = string(status)
	}
}

// Container returns a copy of a container and whether it exists.
func (f *Fake) Container(id string) (docker.ContainerInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return docker.ContainerInfo{}, false
	}
	return *c, true
}

// ContainerByName returns a copy of the named container.
func (f *Fake) ContainerByName(name string) (docker.ContainerInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.byName(name); c != nil {
		return *c, true
	}
	return docker.ContainerInfo{}, false
}

// Running returns the names of running containers, sorted.
func (f *Fake) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.containers {
		if c.Status == docker.ContainerStatusRunning {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Builds returns every build requested so far.
func (f *Fake) Builds() []docker.BuildSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.BuildSpec(nil), f.builds...)
}

// Calls returns the operations invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) enter(op string) error {
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *Fake) byName(name string) *docker.ContainerInfo {
	for _, c := range f.containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *Fake) lookup(op, ref string) (*docker.ContainerInfo, error) {
	if c, ok := f.containers[ref]; ok {
		return c, nil
	}
	if c := f.byName(ref); c != nil {
		return c, nil
	}
	return nil, docker.NewDockerError(op, "container", ref, "container not found", docker.ErrContainerNotFound)
}

// Ping implements docker.Client.
func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter(OpPing)
}

// Close implements docker.Client.
func (f *Fake) Close() error {
	return nil
}

// BuildImage implements docker.Client.
func (f *Fake) BuildImage(ctx context.Context, spec docker.BuildSpec, onOutput docker.BuildOutputCallback) error {
	if f.BuildHook != nil {
		if err := f.BuildHook(spec); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpBuild); err != nil {
		return err
	}
	f.builds = append(f.builds, spec)
	f.images[spec.Tag] = true
	if onOutput != nil {
		onOutput("Successfully tagged " + spec.Tag)
	}
	return nil
}

// ImageExists implements docker.Client.
func (f *Fake) ImageExists(ctx context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

// CreateContainer implements docker.Client.
func (f *Fake) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreate); err != nil {
		return "", err
	}
	if f.byName(spec.Name) != nil {
		return "", docker.NewDockerError(OpCreate, "container", spec.Name, "container already exists", docker.ErrContainerAlreadyExists)
	}
	if !f.images[spec.Image] {
		return "", docker.NewDockerError(OpCreate, "image", spec.Image, "image not found", docker.ErrImageNotFound)
	}

	f.nextID++
	id := fmt.Sprintf("fake%04d", f.nextID)
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	labels := make(map[string]string, len(spec.Labels))
	for k, v := range spec.Labels {
		labels[k] = v
	}

	f.containers[id] = &docker.ContainerInfo{
		ID:        id,
		Name:      spec.Name,
		Image:     spec.Image,
		Status:    docker.ContainerStatusCreated,
		State:     string(docker.ContainerStatusCreated),
		CreatedAt: time.Now(),
		Labels:    labels,
		Env:       env,
		Ports:     append([]docker.PortBinding(nil), spec.Ports...),
	}
	return id, nil
}

// StartContainer implements docker.Client.
func (f *Fake) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpStart); err != nil {
		return err
	}
	c, err := f.lookup(OpStart, containerID)
	if err != nil {
		return err
	}
	if c.Status == docker.ContainerStatusRunning {
		return docker.NewDockerError(OpStart, "container", containerID, "container is already running", docker.ErrContainerAlreadyRunning)
	}
	for i := range c.Ports {
		if c.Ports[i].HostPort == 0 {
			c.Ports[i].HostPort = f.nextPort
			f.nextPort++
		}
	}
	now := time.Now()
	c.StartedAt = &now
	c.Status = f.startStatus
	c.State = string(f.startStatus)
	return nil
}

// StopContainer implements docker.Client.
func (f *Fake) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpStop); err != nil {
		return err
	}
	c, err := f.lookup(OpStop, containerID)
	if err != nil {
		return err
	}
	if c.Status != docker.ContainerStatusRunning {
		return docker.NewDockerError(OpStop, "container", containerID, "container is not running", docker.ErrContainerNotRunning)
	}
	c.Status = docker.ContainerStatusExited
	c.State = string(docker.ContainerStatusExited)
	return nil
}

// RestartContainer implements docker.Client.
func (f *Fake) RestartContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpRestart); err != nil {
		return err
	}
	c, err := f.lookup(OpRestart, containerID)
	if err != nil {
		return err
	}
	c.Status = docker.ContainerStatusRunning
	c.State = string(docker.ContainerStatusRunning)
	c.RestartCount++
	return nil
}

// RemoveContainer implements docker.Client.
func (f *Fake) RemoveContainer(ctx context.Context, containerID string, opts docker.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpRemove); err != nil {
		return err
	}
	c, err := f.lookup(OpRemove, containerID)
	if err != nil {
		return err
	}
	if c.Status == docker.ContainerStatusRunning && !opts.Force {
		return docker.NewDockerError(OpRemove, "container", containerID, "container is running", docker.ErrContainerRunning)
	}
	delete(f.containers, c.ID)
	return nil
}

// InspectContainer implements docker.Client.
func (f *Fake) InspectContainer(ctx context.Context, containerID string) (*docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpInspect); err != nil {
		return nil, err
	}
	c, err := f.lookup(OpInspect, containerID)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

// ListContainers implements docker.Client. Only "label" filters of the form
// key=value are honoured. Without All, only running containers are listed.
func (f *Fake) ListContainers(ctx context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpList); err != nil {
		return nil, err
	}

	var labelKey, labelValue string
	if l, ok := opts.Filters["label"]; ok {
		labelKey, labelValue, _ = strings.Cut(l, "=")
	}

	result := []docker.ContainerInfo{}
	for _, c := range f.containers {
		if !opts.All && c.Status != docker.ContainerStatusRunning {
			continue
		}
		if labelKey != "" && c.Labels[labelKey] != labelValue {
			continue
		}
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ContainerLogs implements docker.Client.
func (f *Fake) ContainerLogs(ctx context.Context, containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpLogs); err != nil {
		return nil, err
	}
	if _, err := f.lookup(OpLogs, containerID); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader([]byte(f.Logs))), nil
}
