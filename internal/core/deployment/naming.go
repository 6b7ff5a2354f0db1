package deployment

import (
	"fmt"

	"github.com/artpar/reflow/internal/core/domain"
)

// ShortSHALength is the number of commit characters used in image tags.
const ShortSHALength = 12

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ContainerName generates the container name of a slot.
// Pattern: reflow-{project}-{env}-{slot}
//
// Example:
//
//	ContainerName("demo", "test", "blue") // returns "reflow-demo-test-blue"
func ContainerName(project string, env domain.Environment, slot domain.Slot) string {
	return fmt.Sprintf("reflow-%s-%s-%s", project, env, slot)
}

// ImageRepository generates the image repository of a project.
// Pattern: reflow/{project}
func ImageRepository(project string) string {
	return fmt.Sprintf("reflow/%s", project)
}

// ImageTag generates the image reference built for a commit.
// Pattern: reflow/{project}:{sha12}
//
// Example:
//
//	ImageTag("demo", "0123456789abcdef") // returns "reflow/demo:0123456789ab"
func ImageTag(project, commit string) string {
	return fmt.Sprintf("%s:%s", ImageRepository(project), ShortSHA(commit))
}

// ShortSHA truncates a commit to ShortSHALength characters.
func ShortSHA(commit string) string {
	if len(commit) > ShortSHALength {
		return commit[:ShortSHALength]
	}
	return commit
}
