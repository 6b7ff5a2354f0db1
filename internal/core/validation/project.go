package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/artpar/reflow/internal/core/domain"
)

// MaxProjectNameLength keeps names usable as DNS labels.
const MaxProjectNameLength = 63

var projectNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// =============================================================================
// Project Validation Functions
// =============================================================================

// ValidateProjectName checks the naming rules for a project.
// Returns an empty message if the name is valid.
//
// Example:
//
//	if msg := ValidateProjectName("My App"); msg != "" {
//	    // "invalid project name ... (try \"my-app\")"
//	}
func ValidateProjectName(name string) string {
	if name == "" {
		return "projectName is required"
	}
	if len(name) > MaxProjectNameLength {
		return fmt.Sprintf("projectName must be at most %d characters", MaxProjectNameLength)
	}
	if !projectNamePattern.MatchString(name) {
		msg := fmt.Sprintf("invalid project name %q: use lowercase letters, digits and single hyphens", name)
		if suggestion := strings.Trim(domain.Slugify(name), "-"); suggestion != "" && projectNamePattern.MatchString(suggestion) {
			msg += fmt.Sprintf(" (try %q)", suggestion)
		}
		return msg
	}
	return ""
}

// ValidateRepoURL accepts http(s), ssh, git and file URLs plus scp-style
// "user@host:path" remotes.
func ValidateRepoURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "repoUrl is required"
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Sprintf("invalid repoUrl: %v", err)
		}
		switch u.Scheme {
		case "http", "https", "ssh", "git", "file":
		default:
			return fmt.Sprintf("unsupported repoUrl scheme %q", u.Scheme)
		}
		if u.Scheme != "file" && u.Host == "" {
			return "repoUrl must include a host"
		}
		return ""
	}
	if at := strings.Index(raw, "@"); at > 0 && strings.Contains(raw[at:], ":") {
		return ""
	}
	if filepath.IsAbs(raw) {
		return ""
	}
	return fmt.Sprintf("invalid repoUrl %q", raw)
}

// ValidateAppPort checks a container port. Zero means "use the default".
func ValidateAppPort(port int) string {
	if port < 0 || port > 65535 {
		return fmt.Sprintf("appPort must be between 1 and 65535, got %d", port)
	}
	return ""
}

// ValidateNodeVersion checks that the value is usable as a node image tag.
func ValidateNodeVersion(version string) string {
	if version == "" {
		return ""
	}
	for _, r := range version {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '.' && r != '-' && r != '_' {
			return fmt.Sprintf("invalid nodeVersion %q", version)
		}
	}
	return ""
}

// ValidateEnvFilePath rejects paths that escape the project directory.
func ValidateEnvFilePath(field, path string) string {
	if path == "" {
		return ""
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Sprintf("%s contains a NUL byte", field)
	}
	if !filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Sprintf("%s must not leave the project directory", field)
		}
	}
	return ""
}

// ValidateDomain checks an optional hostname.
func ValidateDomain(field, host string) string {
	if host == "" {
		return ""
	}
	if len(host) > 253 {
		return fmt.Sprintf("%s is too long", field)
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Sprintf("invalid %s %q", field, host)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '-' {
				return fmt.Sprintf("invalid %s %q", field, host)
			}
		}
	}
	return ""
}

// ValidateCreateProjectFields validates creation args in field order.
// Returns the field name and error message if validation fails.
// Returns empty strings if all fields are valid.
//
// Example:
//
//	field, msg := ValidateCreateProjectFields(args)
//	if field != "" {
//	    // Return 400 Bad Request with msg
//	}
func ValidateCreateProjectFields(args domain.CreateProjectArgs) (field, message string) {
	if msg := ValidateProjectName(args.ProjectName); msg != "" {
		return "projectName", msg
	}
	if msg := ValidateRepoURL(args.RepoURL); msg != "" {
		return "repoUrl", msg
	}
	if msg := ValidateAppPort(args.AppPort); msg != "" {
		return "appPort", msg
	}
	if msg := ValidateNodeVersion(args.NodeVersion); msg != "" {
		return "nodeVersion", msg
	}
	if msg := ValidateDomain("testDomain", args.TestDomain); msg != "" {
		return "testDomain", msg
	}
	if msg := ValidateDomain("prodDomain", args.ProdDomain); msg != "" {
		return "prodDomain", msg
	}
	if msg := ValidateEnvFilePath("testEnvFile", args.TestEnvFile); msg != "" {
		return "testEnvFile", msg
	}
	if msg := ValidateEnvFilePath("prodEnvFile", args.ProdEnvFile); msg != "" {
		return "prodEnvFile", msg
	}
	return "", ""
}

// ValidateProjectConfig validates a full config replacement for project name.
// The body may omit projectName but must not rename the project.
func ValidateProjectConfig(name string, cfg domain.ProjectConfig) (field, message string) {
	if cfg.ProjectName != "" && cfg.ProjectName != name {
		return "projectName", "projectName cannot be changed"
	}
	if msg := ValidateRepoURL(cfg.GithubRepo); msg != "" {
		return "githubRepo", strings.Replace(msg, "repoUrl", "githubRepo", 1)
	}
	if msg := ValidateAppPort(cfg.AppPort); msg != "" {
		return "appPort", msg
	}
	if msg := ValidateNodeVersion(cfg.NodeVersion); msg != "" {
		return "nodeVersion", msg
	}
	envs := []struct {
		prefix string
		env    domain.EnvironmentConfig
	}{
		{"environments.test", cfg.Environments.Test},
		{"environments.prod", cfg.Environments.Prod},
	}
	for _, e := range envs {
		if msg := ValidateDomain(e.prefix+".domain", e.env.Domain); msg != "" {
			return e.prefix + ".domain", msg
		}
		if msg := ValidateEnvFilePath(e.prefix+".envFile", e.env.EnvFile); msg != "" {
			return e.prefix + ".envFile", msg
		}
	}
	return "", ""
}

// CanDeleteContainer checks whether a container may be removed.
// Running containers must be stopped first.
func CanDeleteContainer(running bool) (allowed bool, reason string) {
	if running {
		return false, "container is running; stop it before deleting"
	}
	return true, ""
}

// CanApprove checks whether the test environment has something to promote.
func CanApprove(test *domain.EnvironmentState) (allowed bool, reason string) {
	if test == nil || !test.IsActive() || test.ActiveCommit == "" {
		return false, "no active test deployment"
	}
	return true, ""
}
