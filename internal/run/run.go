// Package run tracks pipeline runs and executes them: one run takes a
// document batch for an organization through extraction, the world model
// merge and memory updates, and records the outcome.
package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusNeedsReview is reserved for downstream planning stages.
	StatusNeedsReview Status = "needs_review"
)

// CodeInternal is the failure code for errors outside extraction.
const CodeInternal = "internal_error"

// MaxErrorMessage bounds stored failure messages, in characters.
const MaxErrorMessage = 8000

var (
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// Run is one execution of the pipeline for one organization.
type Run struct {
	ID                string    `json:"id"`
	OrgID             int64     `json:"org_id"`
	Status            Status    `json:"status"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
	CreatedAt         time.Time `json:"created_at"`
	StartedAt         time.Time `json:"started_at,omitzero"`
	FinishedAt        time.Time `json:"finished_at,omitzero"`
}

// New creates a pending run with a fresh ID.
func New(orgID int64, now time.Time) *Run {
	return &Run{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
	}
}

// Terminal reports whether the run can no longer change.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Start moves a pending run to running.
func (r *Run) Start(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusRunning)
	}
	r.Status = StatusRunning
	r.StartedAt = now.UTC()
	return nil
}

// Complete moves a running run to completed.
func (r *Run) Complete(entities, relationships int, now time.Time) error {
	if r.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusCompleted)
	}
	r.Status = StatusCompleted
	r.EntityCount = entities
	r.RelationshipCount = relationships
	r.FinishedAt = now.UTC()
	return nil
}

// MarkFailed records a failure. The message is scrubbed of secrets and
// truncated to MaxErrorMessage characters. A nil scrubber skips scrubbing.
func (r *Run) MarkFailed(code, message string, scrubber secrets.Scrubber, now time.Time) error {
	if r.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	if scrubber != nil {
		message = scrubber.Scrub(message).Text
	}
	if code == "" {
		code = CodeInternal
	}
	r.Status = StatusFailed
	r.ErrorCode = code
	r.ErrorMessage = truncate(message, MaxErrorMessage)
	r.FinishedAt = now.UTC()
	return nil
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
