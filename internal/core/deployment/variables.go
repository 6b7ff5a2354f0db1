package deployment

import (
	"regexp"
	"strconv"

	"github.com/artpar/reflow/internal/core/domain"
)

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// placeholderRegex matches ${VAR} and ${VAR:-default}.
// Group 1 is the name, group 2 the ":-" marker, group 3 the default.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with
// values from vars. Unknown placeholders without a default are left as-is.
//
// Examples:
//
//	SubstituteVariables("http://localhost:${PORT}", map[string]string{"PORT": "3000"})
//	// Returns: "http://localhost:3000"
//
//	SubstituteVariables("${LOG_LEVEL:-info}", nil)
//	// Returns: "info"
func SubstituteVariables(value string, vars map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		sub := placeholderRegex.FindStringSubmatch(match)
		if v, ok := vars[sub[1]]; ok {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

// RuntimeVariables returns the variables every container receives and that
// env files may reference.
func RuntimeVariables(p *domain.Project, env domain.Environment, commit string) map[string]string {
	nodeEnv := "development"
	if env == domain.EnvProd {
		nodeEnv = "production"
	}
	return map[string]string{
		"PORT":           strconv.Itoa(p.AppPort),
		"NODE_ENV":       nodeEnv,
		"REFLOW_PROJECT": p.Name,
		"REFLOW_ENV":     string(env),
		"REFLOW_COMMIT":  commit,
	}
}
