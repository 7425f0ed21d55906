package types

import "time"

// SubjectRecord holds the reference data for one subject, collected from
// every reference row whose ID starts with the subject prefix.
type SubjectRecord struct {
	ID           string   `json:"id"`
	BeginDates   []string `json:"beginDates"` // YYYY-MM-DD
	EndDates     []string `json:"endDates"`   // YYYY-MM-DD
	LeftDevices  []string `json:"leftDevices"`
	RightDevices []string `json:"rightDevices"`
}

// Dates returns the de-duplicated union of begin and end dates in first-seen order.
func (s SubjectRecord) Dates() []string {
	return Unique(append(append([]string{}, s.BeginDates...), s.EndDates...))
}

// Devices returns the de-duplicated union of left and right device IDs in first-seen order.
func (s SubjectRecord) Devices() []string {
	return Unique(append(append([]string{}, s.LeftDevices...), s.RightDevices...))
}

// Unique drops empty strings and repeats, keeping first-seen order.
func Unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// QueryExecution is a submitted query as observed by the runner.
type QueryExecution struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	State       QueryState `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	ResultKey   string     `json:"resultKey,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
}

// SubjectReport summarizes what happened to one subject.
type SubjectReport struct {
	Subject     string        `json:"subject"`
	Status      SubjectStatus `json:"status"`
	ExecutionID string        `json:"executionId,omitempty"`
	Outcome     Outcome       `json:"outcome,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	LeftRows    int           `json:"leftRows"`
	RightRows   int           `json:"rightRows"`
	Files       []string      `json:"files,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// BatchReport is written as the batch manifest.
type BatchReport struct {
	RunID      string          `json:"runId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Halted     bool            `json:"halted,omitempty"`
	Subjects   []SubjectReport `json:"subjects"`
}

// Count returns how many subjects ended in the given status.
func (b BatchReport) Count(status SubjectStatus) int {
	n := 0
	for _, s := range b.Subjects {
		if s.Status == status {
			n++
		}
	}
	return n
}
