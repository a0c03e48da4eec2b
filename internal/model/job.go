package model

import "time"

// Job status constants. StatusNotFound is never stored; it is what the query
// boundary reports for an unknown job id.
const (
	StatusWaiting  = "WAITING"
	StatusProposal = "PROPOSAL"
	StatusRunning  = "RUNNING"
	StatusFailed   = "FAILED"
	StatusSuccess  = "SUCCESS"
	StatusNotFound = "NOTFOUND"
)

// validJobTransitions maps each job status to the set of statuses it may transition to.
var validJobTransitions = map[string]map[string]bool{
	StatusWaiting: {
		StatusProposal: true,
		StatusFailed:   true,
	},
	StatusProposal: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusSuccess: true,
		StatusFailed:  true,
	},
}

// ValidJobTransition reports whether a job may move from one status to another.
func ValidJobTransition(from, to string) bool {
	targets, ok := validJobTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Job is the Master-side status record of a submitted job.
type Job struct {
	ID        string    `json:"job_id"`
	Type      string    `json:"job_type"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
