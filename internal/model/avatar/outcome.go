package avatar

// OutcomeStatus classifies the result of a best-effort provider call.
type OutcomeStatus string

const (
	StatusOK       OutcomeStatus = "ok"
	StatusDegraded OutcomeStatus = "degraded"
	StatusFatal    OutcomeStatus = "fatal"
)

// Outcome is returned by start/stop calls, which never fail the caller.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// OK builds a successful outcome.
func OK() Outcome {
	return Outcome{Status: StatusOK}
}

// Degraded builds a logged, non-fatal outcome.
func Degraded(reason string) Outcome {
	return Outcome{Status: StatusDegraded, Reason: reason}
}

// Fatal builds an outcome the caller may want to surface, though it is never returned as an error.
func Fatal(reason string) Outcome {
	return Outcome{Status: StatusFatal, Reason: reason}
}

// IsOK reports whether the call fully succeeded.
func (o Outcome) IsOK() bool {
	return o.Status == StatusOK
}
