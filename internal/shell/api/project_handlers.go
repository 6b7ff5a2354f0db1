package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/engine"
	"github.com/artpar/reflow/internal/shell/ledger"
)

// =============================================================================
// Project Handlers
// =============================================================================

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.deps.Registry.ListProjects(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if projects == nil {
		projects = []domain.ProjectSummary{}
	}
	h.writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProjectArgs
	if err := decodeJSON(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	p, err := h.deps.Registry.CreateProject(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, MessageResponse{
		Message: fmt.Sprintf("Project %s created", p.Name),
	})
}

func (h *Handler) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	details, err := h.deps.Registry.GetDetails(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.Registry.GetConfig(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.ProjectConfig
	if err := decodeJSON(r, &cfg); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	updated, err := h.deps.Registry.UpdateConfig(r.Context(), chi.URLParam(r, "name"), cfg)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeDomainError(w, r, invalidBody(err))
		return
	}
	var req DeployRequest
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decodeStrict(data, &req); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}

	result, err := h.deps.Engine.Deploy(r.Context(), engine.DeployRequest{
		Project:     chi.URLParam(r, "name"),
		Commit:      req.Commit,
		TriggeredBy: triggeredBy(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Engine.Approve(r.Context(), engine.ApproveRequest{
		Project:     chi.URLParam(r, "name"),
		TriggeredBy: triggeredBy(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleProjectHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.deps.Registry.GetProject(r.Context(), name); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	events, err := h.deps.Ledger.Query(r.Context(), name, ledger.QueryOptions{
		Limit:   limit,
		Offset:  offset,
		Env:     r.URL.Query().Get("env"),
		Outcome: r.URL.Query().Get("outcome"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.DeploymentEvent{}
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleRecentDeployments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	events, err := h.deps.Ledger.Recent(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.DeploymentEvent{}
	}
	h.writeJSON(w, http.StatusOK, events)
}

// =============================================================================
// Environment Handlers
// =============================================================================

// envParam parses the {env} path segment.
func envParam(r *http.Request) (domain.Environment, error) {
	return domain.ParseEnvironment(chi.URLParam(r, "env"))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	env, err := envParam(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Engine.Start(r.Context(), name, env); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Started %s environment of %s", env, name),
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	env, err := envParam(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Engine.Stop(r.Context(), name, env); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Stopped %s environment of %s", env, name),
	})
}

// handleRestart stops then starts an environment. A failure names the step
// that failed and keeps the kind of the underlying error.
func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	env, err := envParam(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Engine.Stop(r.Context(), name, env); err != nil {
		h.writeDomainError(w, r, inStep("failed to stop during restart", err))
		return
	}
	if err := h.deps.Engine.Start(r.Context(), name, env); err != nil {
		h.writeDomainError(w, r, inStep("failed to start during restart", err))
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Restarted %s environment of %s", env, name),
	})
}

// inStep prefixes the caller-facing message of err, keeping kind and code.
func inStep(step string, err error) error {
	return domain.NewError(domain.KindOf(err), domain.CodeOf(err), nil,
		fmt.Sprintf("%s: %s", step, domain.MessageOf(err)), err)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	env, err := envParam(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	tail, err := queryInt(r, "tail")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	logs, err := h.deps.Engine.Logs(r.Context(), chi.URLParam(r, "name"), env, tail)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeText(w, http.StatusOK, logs)
}

func (h *Handler) handleGetEnvFile(w http.ResponseWriter, r *http.Request) {
	env, err := envParam(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.deps.Registry.GetProject(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	content, err := h.deps.EnvFiles.Read(p, env)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeText(w, http.StatusOK, content)
}

func (h *Handler) handlePutEnvFile(w http.ResponseWriter, r *http.Request) {
	env, err := envParam(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.deps.Registry.GetProject(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	content, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.writeDomainError(w, r, invalidBody(err))
		return
	}
	if len(content) > maxBodyBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "env file too large", "payload_too_large")
		return
	}

	if err := h.deps.EnvFiles.Write(p, env, string(content)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Env file for %s environment of %s saved", env, p.Name),
	})
}
