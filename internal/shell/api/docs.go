package api

import (
	"net/http"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/api/openapi"
)

var (
	envEnum     = []string{string(domain.EnvTest), string(domain.EnvProd)}
	outcomeEnum = []string{string(domain.OutcomeStarted), string(domain.OutcomeSuccess), string(domain.OutcomeFailure)}
)

// operations documents every route under /api/v1.
func operations() []openapi.Operation {
	const (
		projects    = "Projects"
		envs        = "Environments"
		deployments = "Deployments"
		containers  = "Containers"
	)

	return []openapi.Operation{
		{Method: http.MethodGet, Path: "/api/v1/openapi.json", ID: "getOpenAPI", Summary: "This document", Tag: "Meta"},

		// Projects
		{Method: http.MethodGet, Path: "/api/v1/projects", ID: "listProjects", Summary: "List projects with their environment status",
			Tag: projects, Response: []domain.ProjectSummary{}},
		{Method: http.MethodPost, Path: "/api/v1/projects", ID: "createProject", Summary: "Create a project",
			Tag: projects, Request: domain.CreateProjectArgs{}, Status: http.StatusCreated, Response: MessageResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{name}/status", ID: "getProjectStatus", Summary: "Project details with both environments",
			Tag: projects, Response: domain.ProjectDetails{}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{name}/config", ID: "getProjectConfig", Summary: "Editable project configuration",
			Tag: projects, Response: domain.ProjectConfig{}},
		{Method: http.MethodPut, Path: "/api/v1/projects/{name}/config", ID: "updateProjectConfig", Summary: "Replace the project configuration",
			Tag: projects, Request: domain.ProjectConfig{}, Response: domain.ProjectConfig{}},

		// Deployments
		{Method: http.MethodPost, Path: "/api/v1/projects/{name}/deploy", ID: "deploy", Summary: "Deploy a commit to test",
			Tag: deployments, Request: DeployRequest{}, Response: domain.DeploymentResult{}},
		{Method: http.MethodPost, Path: "/api/v1/projects/{name}/approve", ID: "approve", Summary: "Promote the test commit to prod",
			Tag: deployments, Response: domain.DeploymentResult{}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{name}/deployments", ID: "listProjectDeployments", Summary: "Deployment history, newest first",
			Tag: deployments, Response: []domain.DeploymentEvent{},
			Query: []openapi.Param{
				{Name: "limit", Type: "integer", Description: "Page size, default 50, at most 500"},
				{Name: "offset", Type: "integer"},
				{Name: "env", Enum: envEnum},
				{Name: "outcome", Enum: outcomeEnum},
			}},
		{Method: http.MethodGet, Path: "/api/v1/deployments", ID: "listRecentDeployments", Summary: "Recent deployments of every project",
			Tag: deployments, Response: []domain.DeploymentEvent{},
			Query: []openapi.Param{{Name: "limit", Type: "integer"}}},

		// Environments
		{Method: http.MethodPost, Path: "/api/v1/projects/{name}/{env}/start", ID: "startEnvironment", Summary: "Start a stopped environment",
			Tag: envs, Response: MessageResponse{}},
		{Method: http.MethodPost, Path: "/api/v1/projects/{name}/{env}/stop", ID: "stopEnvironment", Summary: "Stop an environment",
			Tag: envs, Response: MessageResponse{}},
		{Method: http.MethodPost, Path: "/api/v1/projects/{name}/{env}/restart", ID: "restartEnvironment", Summary: "Stop then start an environment",
			Tag: envs, Response: MessageResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{name}/{env}/logs", ID: "getEnvironmentLogs", Summary: "Tail of the container logs",
			Tag: envs, ResponseText: true,
			Query: []openapi.Param{{Name: "tail", Type: "integer", Description: "Number of lines, default 100"}}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{name}/{env}/envfile", ID: "getEnvFile", Summary: "Raw env file",
			Tag: envs, ResponseText: true},
		{Method: http.MethodPut, Path: "/api/v1/projects/{name}/{env}/envfile", ID: "putEnvFile", Summary: "Replace the env file",
			Tag: envs, RequestText: true, Response: MessageResponse{}},

		// Containers
		{Method: http.MethodGet, Path: "/api/v1/containers", ID: "listContainers", Summary: "List managed containers",
			Tag: containers, Response: []ContainerResponse{},
			Query: []openapi.Param{{Name: "all", Type: "boolean", Description: "Include containers not created by Reflow"}}},
		{Method: http.MethodGet, Path: "/api/v1/containers/{id}", ID: "getContainer", Summary: "Inspect a container",
			Tag: containers, Response: ContainerDetailsResponse{}},
		{Method: http.MethodDelete, Path: "/api/v1/containers/{id}", ID: "deleteContainer", Summary: "Remove a stopped container",
			Tag: containers, Status: http.StatusNoContent},
		{Method: http.MethodPost, Path: "/api/v1/containers/{id}/start", ID: "startContainer", Summary: "Start a container",
			Tag: containers, Response: MessageResponse{}},
		{Method: http.MethodPost, Path: "/api/v1/containers/{id}/stop", ID: "stopContainer", Summary: "Stop a container",
			Tag: containers, Response: MessageResponse{}},
		{Method: http.MethodPost, Path: "/api/v1/containers/{id}/restart", ID: "restartContainer", Summary: "Restart a container",
			Tag: containers, Response: MessageResponse{}},
	}
}
