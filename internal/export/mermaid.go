package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/papercast/internal/job"
)

// stageEdges lists the dependency arrows of the stage graph. Optional
// edges are drawn dotted.
var stageEdges = []struct {
	from, to job.Stage
	optional bool
}{
	{job.StageExtraction, job.StagePlanning, false},
	{job.StagePlanning, job.StageSegmentRendering, false},
	{job.StagePlanning, job.StageNarration, false},
	{job.StageSegmentRendering, job.StageNarration, true},
	{job.StageSegmentRendering, job.StageComposition, false},
	{job.StageNarration, job.StageComposition, false},
}

// GenerateMermaid produces a Mermaid flowchart of the job's stages. Each
// node is classed complete, running, next or pending, and fan-out nodes
// show their segment counts.
func GenerateMermaid(e *JobExport) string {
	var sb strings.Builder
	sb.WriteString("flowchart LR\n")

	for _, st := range e.Stages {
		label := st.Name
		if st.Segments > 0 {
			label = fmt.Sprintf("%s<br/>%d segments", label, st.Segments)
			if st.Failures > 0 {
				label = fmt.Sprintf("%s, %d failed", label, st.Failures)
			}
		}
		fmt.Fprintf(&sb, "    S%d[\"%s\"]:::%s\n", st.Stage, escapeLabel(label), st.Status)
	}

	for _, edge := range stageEdges {
		arrow := "-->"
		if edge.optional {
			arrow = "-.->"
		}
		fmt.Fprintf(&sb, "    S%d %s S%d\n", int(edge.from), arrow, int(edge.to))
	}

	sb.WriteString("    classDef complete fill:#c8e6c9,stroke:#2e7d32\n")
	sb.WriteString("    classDef running fill:#fff9c4,stroke:#f9a825\n")
	sb.WriteString("    classDef next fill:#bbdefb,stroke:#1565c0\n")
	sb.WriteString("    classDef pending fill:#eeeeee,stroke:#9e9e9e\n")
	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
