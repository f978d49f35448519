package timeline

import (
	"fmt"
	"strings"
)

// builtinStages covers the mission pipeline: intake, planning, approval,
// execution, validation, coverage scoring, evidence and exit.
// New stages are data: add an entry, not a branch.
var builtinStages = map[string]StageDescriptor{
	"intake_received": {
		Label:  "Intake received",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			if obj := m.String("objective"); obj != "" {
				return fmt.Sprintf("Mission intake captured: %s.", obj)
			}
			return "Mission intake captured."
		},
	},
	"intake_validated": {
		Label:  "Intake validated",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			if n, ok := m.Count("fields"); ok {
				return fmt.Sprintf("Validated %s of mission intake.", plural(n, "field", "fields"))
			}
			return "Mission intake passed validation."
		},
	},
	"planner_started": {
		Label:  "Planner started",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			if obj := m.String("objective"); obj != "" {
				return fmt.Sprintf("Planner is assembling candidate plays for %s.", obj)
			}
			return "Planner is assembling candidate plays."
		},
	},
	"planner_candidates_retrieved": {
		Label:  "Candidate plays retrieved",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			n, ok := m.Count("candidate_count")
			if !ok {
				return "Planner retrieved candidate plays from the library."
			}
			desc := fmt.Sprintf("Retrieved %s from the library", plural(n, "candidate play", "candidate plays"))
			if sim, ok := m.Float("top_similarity"); ok {
				desc += fmt.Sprintf(" (top similarity %s)", score(sim))
			}
			return desc + "."
		},
	},
	"planner_rank_complete": {
		Label:  "Planner ranked plays",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			n, ok := m.Count("candidate_count")
			if !ok {
				return "Planner finished ranking candidate plays."
			}
			desc := fmt.Sprintf("Ranked %s", plural(n, "candidate play", "candidate plays"))
			if top := m.String("top_play"); top != "" {
				desc += fmt.Sprintf("; top pick %s", top)
				if sim, ok := m.Float("similarity"); ok {
					desc += fmt.Sprintf(" (similarity %s)", score(sim))
				}
			}
			return desc + "."
		},
	},
	"plan_approval_requested": {
		Label:  "Approval requested",
		Status: StatusPending,
		Describe: func(m Metadata, _ string) string {
			if play := m.String("play"); play != "" {
				return fmt.Sprintf("Awaiting operator approval for %s.", play)
			}
			return "Awaiting operator approval for the proposed plan."
		},
	},
	"plan_approved": {
		Label:  "Plan approved",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			if who := m.String("approver"); who != "" {
				return fmt.Sprintf("Plan approved by %s.", who)
			}
			return "Plan approved."
		},
	},
	"plan_rejected": {
		Label:  "Plan rejected",
		Status: StatusWarning,
		Describe: func(m Metadata, content string) string {
			if reason := m.String("reason"); reason != "" {
				return fmt.Sprintf("Plan rejected: %s.", reason)
			}
			return firstNonEmpty(content, "Plan rejected by operator.")
		},
	},
	"executor_started": {
		Label:  "Execution started",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			if n, ok := m.Count("step_count"); ok {
				return fmt.Sprintf("Executing %s.", plural(n, "step", "steps"))
			}
			return "Executor picked up the approved plan."
		},
	},
	"executor_step_complete": {
		Label:  "Step completed",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			idx, okIdx := m.Int("step_index")
			total, okTotal := m.Int("step_count")
			name := m.String("step_name")
			switch {
			case okIdx && okTotal && name != "":
				return fmt.Sprintf("Completed step %d of %d: %s.", idx, total, name)
			case okIdx && okTotal:
				return fmt.Sprintf("Completed step %d of %d.", idx, total)
			case name != "":
				return fmt.Sprintf("Completed step %s.", name)
			}
			return "Completed an execution step."
		},
	},
	"executor_tool_call": {
		Label:  "Tool invoked",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			tool := m.String("tool")
			if tool == "" {
				return "Executor invoked a tool."
			}
			if target := m.String("target"); target != "" {
				return fmt.Sprintf("Called %s on %s.", tool, target)
			}
			return fmt.Sprintf("Called %s.", tool)
		},
	},
	"executor_complete": {
		Label:  "Execution complete",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			if n, ok := m.Count("step_count"); ok {
				return fmt.Sprintf("Executed %s.", plural(n, "step", "steps"))
			}
			return "Execution finished."
		},
	},
	"executor_error": {
		Label:  "Execution error",
		Status: StatusWarning,
		Describe: func(m Metadata, content string) string {
			if msg := m.String("error"); msg != "" {
				return fmt.Sprintf("Executor reported an error: %s.", msg)
			}
			return firstNonEmpty(content, "Executor reported an error.")
		},
	},
	"validator_started": {
		Label:  "Validation started",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			if n, ok := m.Count("check_count"); ok {
				return fmt.Sprintf("Running %s.", plural(n, "validation check", "validation checks"))
			}
			return "Validator is checking execution results."
		},
	},
	"validator_check": {
		Label:  "Validation check",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			name := m.String("check")
			passed, ok := m.Bool("passed")
			if name == "" || !ok {
				return "Validator recorded a check result."
			}
			if passed {
				return fmt.Sprintf("Check %s passed.", name)
			}
			return fmt.Sprintf("Check %s failed.", name)
		},
	},
	"validator_complete": {
		Label:  "Validation complete",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			passed, okP := m.Int("passed")
			total, okT := m.Int("total")
			if !okP || !okT {
				return "Validation finished."
			}
			desc := fmt.Sprintf("Passed %d of %d checks", passed, total)
			if cov, ok := m.Float("coverage"); ok {
				desc += fmt.Sprintf(" (coverage %s)", score(cov))
			}
			return desc + "."
		},
	},
	"validator_failed": {
		Label:  "Validation failed",
		Status: StatusWarning,
		Describe: func(m Metadata, content string) string {
			if failed, ok := m.List("failed_checks"); ok && len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, f := range failed {
					if s, ok := f.(string); ok && s != "" {
						names = append(names, s)
					}
				}
				if len(names) > 0 {
					return fmt.Sprintf("Failed checks: %s.", strings.Join(names, ", "))
				}
			}
			return firstNonEmpty(content, "Validation failed.")
		},
	},
	"coverage_scored": {
		Label:  "Coverage scored",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			s, ok := m.Float("readiness_score")
			if !ok {
				return "Coverage readiness scored."
			}
			if n, ok := m.Count("dimensions"); ok {
				return fmt.Sprintf("Readiness score %s across %s.", score(s), plural(n, "dimension", "dimensions"))
			}
			return fmt.Sprintf("Readiness score %s.", score(s))
		},
	},
	"evidence_capture": {
		Label:  "Evidence captured",
		Status: StatusInProgress,
		Describe: func(m Metadata, _ string) string {
			if n, ok := m.Count("artifact_count"); ok {
				return fmt.Sprintf("Captured %s.", plural(n, "artifact", "artifacts"))
			}
			return "Capturing evidence artifacts."
		},
	},
	"evidence_bundle_ready": {
		Label:  "Evidence bundle ready",
		Status: StatusComplete,
		Describe: func(m Metadata, _ string) string {
			id := m.String("bundle_id")
			n, ok := m.Count("artifact_count")
			switch {
			case id != "" && ok:
				return fmt.Sprintf("Bundle %s packaged with %s.", id, plural(n, "artifact", "artifacts"))
			case id != "":
				return fmt.Sprintf("Bundle %s packaged.", id)
			}
			return "Evidence bundle packaged."
		},
	},
	ExitSentinel: {
		Label:  "Mission exited",
		Status: StatusComplete,
		Describe: func(m Metadata, content string) string {
			reason := m.String("reason")
			status := firstNonEmpty(m.String("mission_status"), m.String("missionStatus"))
			switch {
			case reason != "" && status != "":
				return fmt.Sprintf("Session ended (%s): %s.", status, reason)
			case reason != "":
				return fmt.Sprintf("Session ended: %s.", reason)
			}
			return firstNonEmpty(content, "Session ended.")
		},
	},
}
