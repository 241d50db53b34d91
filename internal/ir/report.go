package ir

// OutcomeStatus is the per-item result of a batch invocation.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeError   OutcomeStatus = "error"
)

// ItemOutcome describes what happened to one processed item.
type ItemOutcome struct {
	Key    string        `json:"key"`
	Status OutcomeStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
}

// Report is returned by every entry point for operational monitoring.
type Report struct {
	RunID     string        `json:"run_id"`
	Processed int           `json:"processed"`
	Items     []ItemOutcome `json:"items"`
	Errors    []string      `json:"errors,omitempty"`
}

// Add records an item outcome and counts it as processed.
func (r *Report) Add(key string, status OutcomeStatus, detail string) {
	r.Processed++
	r.Items = append(r.Items, ItemOutcome{Key: key, Status: status, Detail: detail})
	if status == OutcomeError {
		r.Errors = append(r.Errors, key+": "+detail)
	}
}

// Count returns how many items ended with status.
func (r *Report) Count(status OutcomeStatus) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == status {
			n++
		}
	}
	return n
}
