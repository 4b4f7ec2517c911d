package model

// OutcomeKind discriminates the RunOutcome variants.
type OutcomeKind string

const (
	OutcomeOK      OutcomeKind = "ok"
	OutcomeError   OutcomeKind = "error"
	OutcomeSkipped OutcomeKind = "skipped"
)

// RunOutcome is the result of one pass through the task runner pipeline.
// Skipped outcomes never create a JobRun.
type RunOutcome struct {
	Kind     OutcomeKind        `json:"status"`
	Counters map[string]float64 `json:"counters,omitempty"`
	Err      string             `json:"error,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	LockKey  string             `json:"lock_key,omitempty"`
	RunID    int64              `json:"run_id,omitempty"`
}

// OutcomeOk builds a success outcome with captured counters.
func OutcomeOk(runID int64, counters map[string]float64) RunOutcome {
	return RunOutcome{Kind: OutcomeOK, RunID: runID, Counters: counters}
}

// OutcomeErr builds a failure outcome.
func OutcomeErr(runID int64, errText string) RunOutcome {
	return RunOutcome{Kind: OutcomeError, RunID: runID, Err: errText}
}

// OutcomeLocked builds the skipped outcome for a held single-flight lock.
func OutcomeLocked(lockKey string) RunOutcome {
	return RunOutcome{Kind: OutcomeSkipped, Reason: "locked", LockKey: lockKey}
}
