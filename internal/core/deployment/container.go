package deployment

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// DefaultBindHost keeps slot ports private to the host; traffic reaches them
// through the app proxy.
const DefaultBindHost = "127.0.0.1"

// BuildContainerPlan builds the ContainerPlan for one slot of an environment.
//
// This is a pure function that turns a project definition, the target slot and
// the parsed env file into a plan the shell can execute via the Docker API.
//
// The function:
//   - Generates the container name using ContainerName()
//   - Starts from RuntimeVariables and overlays the env file, substituting
//     ${VAR} references against the runtime variables
//   - Publishes the app port on an ephemeral host port of BindHost
//   - Labels the container with project, environment, slot, commit and the
//     ConfigFingerprint of its port and environment
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    Project:     project,
//	    Environment: domain.EnvTest,
//	    Slot:        domain.SlotBlue,
//	    Commit:      sha,
//	    Image:       ImageTag(project.Name, sha),
//	    EnvVars:     vars,
//	})
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	p := params.Project

	runtime := RuntimeVariables(p, params.Environment, params.Commit)
	env := make(map[string]string, len(runtime)+len(params.EnvVars))
	for k, v := range runtime {
		env[k] = v
	}
	for k, v := range params.EnvVars {
		env[k] = SubstituteVariables(v, runtime)
	}

	bindHost := params.BindHost
	if bindHost == "" {
		bindHost = DefaultBindHost
	}

	return ContainerPlan{
		Name:  ContainerName(p.Name, params.Environment, params.Slot),
		Image: params.Image,
		Env:   env,
		Labels: map[string]string{
			LabelManaged:     "true",
			LabelProject:     p.Name,
			LabelEnvironment: string(params.Environment),
			LabelSlot:        string(params.Slot),
			LabelCommit:      params.Commit,
			LabelConfig:      ConfigFingerprint(p.AppPort, env),
		},
		Ports: []PortPlan{{
			ContainerPort: p.AppPort,
			HostPort:      0,
			Protocol:      "tcp",
			HostIP:        bindHost,
		}},
		RestartPolicy: RestartPolicyPlan{Name: "unless-stopped"},
	}
}

// ConfigFingerprint identifies the runtime configuration a container was
// created with. Two plans with equal fingerprints publish the same port and
// receive the same environment.
func ConfigFingerprint(appPort int, env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte("port=" + strconv.Itoa(appPort) + "\n"))
	for _, k := range keys {
		h.Write([]byte(k + "=" + env[k] + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// PlanMatches reports whether a container carrying labels was created from
// plan's configuration. Containers without a fingerprint never match.
func PlanMatches(plan ContainerPlan, labels map[string]string) bool {
	got := labels[LabelConfig]
	return got != "" && got == plan.Labels[LabelConfig]
}
