package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Environments
// =============================================================================

// Environment names one of the two deployment targets of a project.
type Environment string

const (
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// Environments returns every environment in display order.
func Environments() []Environment {
	return []Environment{EnvTest, EnvProd}
}

// ParseEnvironment validates an environment name.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvTest, EnvProd:
		return Environment(s), nil
	default:
		return "", NewValidationError(ErrInvalidEnvironment,
			fmt.Sprintf("invalid environment %q: must be test or prod", s))
	}
}

// =============================================================================
// Project Defaults
// =============================================================================

const (
	DefaultAppPort     = 3000
	DefaultNodeVersion = "20-alpine"
	DefaultTestEnvFile = ".env.development"
	DefaultProdEnvFile = ".env.production"
)

// =============================================================================
// Project
// =============================================================================

// EnvironmentConfig is the per-environment part of a project definition.
type EnvironmentConfig struct {
	Domain  string `json:"domain"`
	EnvFile string `json:"envFile"`
}

// Project is a deployable application definition.
type Project struct {
	Name          string
	RepoURL       string
	LocalRepoPath string
	AppPort       int
	NodeVersion   string
	Test          EnvironmentConfig
	Prod          EnvironmentConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateProjectArgs is the input for project creation.
type CreateProjectArgs struct {
	ProjectName string `json:"projectName"`
	RepoURL     string `json:"repoUrl"`
	AppPort     int    `json:"appPort,omitempty"`
	NodeVersion string `json:"nodeVersion,omitempty"`
	TestDomain  string `json:"testDomain,omitempty"`
	ProdDomain  string `json:"prodDomain,omitempty"`
	TestEnvFile string `json:"testEnvFile,omitempty"`
	ProdEnvFile string `json:"prodEnvFile,omitempty"`
}

// NewProject builds a project from validated creation args, filling defaults.
func NewProject(args CreateProjectArgs, localRepoPath string) *Project {
	now := time.Now().UTC()
	p := &Project{
		Name:          args.ProjectName,
		RepoURL:       args.RepoURL,
		LocalRepoPath: localRepoPath,
		AppPort:       args.AppPort,
		NodeVersion:   args.NodeVersion,
		Test:          EnvironmentConfig{Domain: args.TestDomain, EnvFile: args.TestEnvFile},
		Prod:          EnvironmentConfig{Domain: args.ProdDomain, EnvFile: args.ProdEnvFile},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.applyDefaults()
	return p
}

func (p *Project) applyDefaults() {
	if p.AppPort == 0 {
		p.AppPort = DefaultAppPort
	}
	if p.NodeVersion == "" {
		p.NodeVersion = DefaultNodeVersion
	}
	if p.Test.EnvFile == "" {
		p.Test.EnvFile = DefaultTestEnvFile
	}
	if p.Prod.EnvFile == "" {
		p.Prod.EnvFile = DefaultProdEnvFile
	}
}

// EnvConfig returns the configuration of env.
func (p *Project) EnvConfig(env Environment) EnvironmentConfig {
	if env == EnvProd {
		return p.Prod
	}
	return p.Test
}

// =============================================================================
// Project Config
// =============================================================================

// EnvironmentsConfig groups both environment configurations.
type EnvironmentsConfig struct {
	Test EnvironmentConfig `json:"test"`
	Prod EnvironmentConfig `json:"prod"`
}

// ProjectConfig is the editable view of a project.
type ProjectConfig struct {
	ProjectName  string             `json:"projectName"`
	GithubRepo   string             `json:"githubRepo"`
	AppPort      int                `json:"appPort"`
	NodeVersion  string             `json:"nodeVersion"`
	Environments EnvironmentsConfig `json:"environments"`
}

// Config returns the editable view of p.
func (p *Project) Config() ProjectConfig {
	return ProjectConfig{
		ProjectName: p.Name,
		GithubRepo:  p.RepoURL,
		AppPort:     p.AppPort,
		NodeVersion: p.NodeVersion,
		Environments: EnvironmentsConfig{
			Test: p.Test,
			Prod: p.Prod,
		},
	}
}

// ApplyConfig replaces every mutable field of p with cfg. The name is immutable.
// Running environments are unaffected until their next deploy or restart.
func (p *Project) ApplyConfig(cfg ProjectConfig) {
	p.RepoURL = cfg.GithubRepo
	p.AppPort = cfg.AppPort
	p.NodeVersion = cfg.NodeVersion
	p.Test = cfg.Environments.Test
	p.Prod = cfg.Environments.Prod
	p.applyDefaults()
	p.UpdatedAt = time.Now().UTC()
}
