package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/papercast/internal/job"
)

// checkPrerequisites reports every required upstream stage the job is
// missing.
func checkPrerequisites(j *job.Job, stage job.Stage) error {
	var missing []string
	for _, p := range stage.Prerequisites() {
		if p.Required && !j.Completed(p.Stage) {
			missing = append(missing, p.Stage.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrDependencyNotMet, stage, strings.Join(missing, ", "))
	}
	return nil
}
