package workflow

import (
	"fmt"

	"github.com/vidflow/vidflow/pkg/model"
)

// Decision is what a run should do next given its persisted state.
type Decision struct {
	Complete bool
	ResumeAt int
}

// Plan derives the resume point from persisted run state alone. Only a finished
// run is complete; a failed run that was reopened resumes after its recorded
// steps. Recorded steps must form a prefix of the definition; anything else means
// the definition changed underneath the run.
func Plan(def Definition, run *model.WorkflowRun, recorded []model.WorkflowStep) (Decision, error) {
	if run.Status == model.RunFinished {
		return Decision{Complete: true}, nil
	}

	done := make(map[string]bool, len(recorded))
	for _, step := range recorded {
		done[step.Name] = true
	}

	resumeAt := len(def.Steps)
	for i, step := range def.Steps {
		if !done[step.ID.String()] {
			resumeAt = i
			break
		}
	}

	matched := 0
	for _, step := range def.Steps {
		if done[step.ID.String()] {
			matched++
		}
	}
	if matched != len(done) || matched != resumeAt {
		return Decision{}, fmt.Errorf("%w: run %s has %d recorded steps, resume point %d", ErrDefinitionMismatch, run.ID, len(done), resumeAt)
	}
	return Decision{ResumeAt: resumeAt}, nil
}
