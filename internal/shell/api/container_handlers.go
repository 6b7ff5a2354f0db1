package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/reflow/internal/core/deployment"
	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/core/validation"
	"github.com/artpar/reflow/internal/shell/docker"
)

// =============================================================================
// Container Handlers
// =============================================================================

// handleListContainers lists containers created by Reflow, stopped ones
// included. all=true lists every container on the host.
func (h *Handler) handleListContainers(w http.ResponseWriter, r *http.Request) {
	opts := docker.ListOptions{All: true}
	if r.URL.Query().Get("all") != "true" {
		opts.Filters = map[string]string{"label": deployment.LabelManaged + "=true"}
	}

	containers, err := h.deps.Docker.ListContainers(r.Context(), opts)
	if err != nil {
		h.writeDomainError(w, r, containerError("", err))
		return
	}

	resp := make([]ContainerResponse, 0, len(containers))
	for i := range containers {
		resp = append(resp, containerToResponse(&containers[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := h.deps.Docker.InspectContainer(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, containerError(id, err))
		return
	}
	h.writeJSON(w, http.StatusOK, containerToDetails(info))
}

func (h *Handler) handleStartContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.deps.Docker.StartContainer(r.Context(), id)
	if err != nil && !errors.Is(err, docker.ErrContainerAlreadyRunning) {
		h.writeDomainError(w, r, containerError(id, err))
		return
	}
	h.logger.Info("container started", "container", id)
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Container %s started", id)})
}

func (h *Handler) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.deps.Docker.StopContainer(r.Context(), id, nil)
	if err != nil && !errors.Is(err, docker.ErrContainerNotRunning) {
		h.writeDomainError(w, r, containerError(id, err))
		return
	}
	h.logger.Info("container stopped", "container", id)
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Container %s stopped", id)})
}

func (h *Handler) handleRestartContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Docker.RestartContainer(r.Context(), id, nil); err != nil {
		h.writeDomainError(w, r, containerError(id, err))
		return
	}
	h.logger.Info("container restarted", "container", id)
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Container %s restarted", id)})
}

// handleDeleteContainer removes a stopped container. Running containers are
// refused so an active slot is never pulled from under the proxy.
func (h *Handler) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := h.deps.Docker.InspectContainer(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, containerError(id, err))
		return
	}

	if allowed, reason := validation.CanDeleteContainer(info.Running()); !allowed {
		h.writeDomainError(w, r, domain.NewError(domain.KindConflict, "container_running",
			domain.ErrContainerRunning, reason, nil))
		return
	}

	if err := h.deps.Docker.RemoveContainer(r.Context(), info.ID, docker.RemoveOptions{}); err != nil {
		h.writeDomainError(w, r, containerError(id, err))
		return
	}
	h.logger.Info("container removed", "container", info.ID, "name", info.Name)
	w.WriteHeader(http.StatusNoContent)
}

// containerError translates a driver error into a typed error.
func containerError(id string, err error) error {
	switch {
	case errors.Is(err, docker.ErrContainerNotFound):
		return domain.NewError(domain.KindNotFound, "container_not_found", domain.ErrContainerNotFound,
			fmt.Sprintf("container %s not found", id), err)
	case errors.Is(err, docker.ErrContainerRunning):
		return domain.NewError(domain.KindConflict, "container_running", domain.ErrContainerRunning,
			fmt.Sprintf("container %s is running", id), err)
	case docker.IsUnavailable(err):
		return domain.NewDriverUnavailableError(err)
	default:
		return domain.NewError(domain.KindExternal, "container_operation_failed", nil,
			"container operation failed", err)
	}
}

// =============================================================================
// Converters
// =============================================================================

func containerToResponse(c *docker.ContainerInfo) ContainerResponse {
	resp := ContainerResponse{
		ID:          c.ID,
		Name:        c.Name,
		Image:       c.Image,
		State:       c.State,
		Status:      c.StatusText,
		Created:     c.CreatedAt,
		Ports:       make([]PortResponse, 0, len(c.Ports)),
		Labels:      c.Labels,
		Project:     c.Labels[deployment.LabelProject],
		Environment: c.Labels[deployment.LabelEnvironment],
		Slot:        c.Labels[deployment.LabelSlot],
		Commit:      c.Labels[deployment.LabelCommit],
	}
	if resp.State == "" {
		resp.State = string(c.Status)
	}
	if resp.Status == "" {
		resp.Status = string(c.Status)
	}
	if resp.Labels == nil {
		resp.Labels = map[string]string{}
	}
	for _, p := range c.Ports {
		resp.Ports = append(resp.Ports, PortResponse{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			HostIP:        p.HostIP,
			Protocol:      p.Protocol,
		})
	}
	return resp
}

func containerToDetails(c *docker.ContainerInfo) ContainerDetailsResponse {
	resp := ContainerDetailsResponse{
		ContainerResponse: containerToResponse(c),
		Command:           c.Command,
		Health:            c.Health,
		StartedAt:         c.StartedAt,
		FinishedAt:        c.FinishedAt,
		ExitCode:          c.ExitCode,
		RestartCount:      c.RestartCount,
		OOMKilled:         c.OOMKilled,
		Error:             c.Error,
		Pid:               c.Pid,
	}
	if resp.Command == nil {
		resp.Command = []string{}
	}
	return resp
}
