package models

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
	StatusPartial    TaskStatus = "partial"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

type TaskKind string

const (
	KindCompanyInfo TaskKind = "company-info"
	KindCompanyJobs TaskKind = "company-jobs"
)

// ParseTaskKind accepts both the long names and the "info"/"jobs" shorthands.
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", string(KindCompanyInfo):
		return KindCompanyInfo, nil
	case "jobs", string(KindCompanyJobs):
		return KindCompanyJobs, nil
	default:
		return "", fmt.Errorf("unknown task kind %q", s)
	}
}

// TaskState is the running summary of one batch. Only the orchestrator
// mutates it; everyone else receives copies.
type TaskState struct {
	ID           string     `json:"id"`
	Kind         TaskKind   `json:"type"`
	Current      int        `json:"current"`
	Total        int        `json:"total"`
	SuccessCount int        `json:"successCount"`
	FailCount    int        `json:"failCount"`
	Jobs         *int       `json:"jobs,omitempty"`
	Status       TaskStatus `json:"status"`
	FailReason   string     `json:"failReason,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s TaskState) Clone() TaskState {
	c := s
	if s.Jobs != nil {
		j := *s.Jobs
		c.Jobs = &j
	}
	if s.EndTime != nil {
		e := *s.EndTime
		c.EndTime = &e
	}
	return c
}

type UpdateKind string

const (
	UpdateStarted  UpdateKind = "started"
	UpdateProgress UpdateKind = "progress"
	UpdateRecords  UpdateKind = "records"
	UpdateFinished UpdateKind = "finished"
)

// Update is one progress publication: what changed and the snapshot after
// the change.
type Update struct {
	Kind UpdateKind `json:"kind"`
	Task TaskState  `json:"task"`
}
