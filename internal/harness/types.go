package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	// Step is the 1-based index of the top-level step.
	Step int    `json:"step"`
	Type string `json:"type"`

	Machine  string `json:"machine"`
	Subject  string `json:"subject,omitempty"`
	Quantity string `json:"quantity,omitempty"`

	// Outcome is "ok" or the engine error code.
	Outcome string `json:"outcome,omitempty"`

	// Notifications lists notified ingredients in recipe order.
	Notifications []string `json:"notifications,omitempty"`

	// Outcomes counts the results of a concurrent group.
	Outcomes map[string]int `json:"outcomes,omitempty"`

	// Stock is the machine stock after the step.
	Stock map[string]string `json:"stock"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

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

// outcomes counts trace outcomes, expanding concurrent groups.
func (r *Result) outcomes() map[string]int {
	counts := make(map[string]int)
	for _, ev := range r.Trace {
		if ev.Type == StepConcurrent {
			for k, n := range ev.Outcomes {
				counts[k] += n
			}
			continue
		}
		counts[ev.Outcome]++
	}
	return counts
}
