package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Op      string   `json:"op"`
	Node    string   `json:"node,omitempty"`
	Session string   `json:"session,omitempty"`
	Outcome string   `json:"outcome"`
	LockID  int64    `json:"lock_id,omitempty"`
	LockAge string   `json:"lock_age,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Purged  int      `json:"purged,omitempty"`
	Elapsed string   `json:"elapsed,omitempty"`
}

// Trace outcomes besides the session error codes.
const (
	OutcomeOK       = "ok"
	OutcomeAcquired = "acquired"
	OutcomeNotFound = "not_found"
	OutcomeLocked   = "locked"
	OutcomeError    = "error"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) TraceEvent {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
	return ev
}
