// Package deployment provides pure functions for blue/green deployment planning.
//
// All functions are pure (no I/O, no side effects). The imperative shell
// (internal/shell/engine) drives them and executes the resulting plans through
// the Docker adapter.
//
// # Functions
//
//   - Naming: Generate consistent resource names (ContainerName, ImageTag)
//   - Phases: Validate attempt phase transitions (ValidateTransition, Tracker)
//   - Retry: Bounded health polling cadence (RetryPolicy)
//   - Container: Build container plans for a slot (BuildContainerPlan, PlanMatches)
//   - Start: Decide how to restore a stopped environment (DetermineStartPath)
//   - Readiness: Interpret container state and probe answers (ContainerReadiness)
//   - Dockerfile: Render a Node build recipe (GenerateDockerfile)
//
// # Usage
//
//	slot := state.ActiveSlot.Other()
//	plan := deployment.BuildContainerPlan(params)
//	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
//	    ...
//	    time.Sleep(policy.Delay(attempt))
//	}
package deployment
