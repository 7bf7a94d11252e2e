package http

import (
	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/run"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DocumentInput is one parsed document in a run submission.
type DocumentInput struct {
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
	Origin   string `json:"origin,omitempty"`
}

// CreateRunRequest is the request body for POST /api/v1/orgs/:org_id/runs.
type CreateRunRequest struct {
	Documents []DocumentInput `json:"documents"`
}

// RunResponse is returned for a submitted run. Error is set, and the
// entity lists are absent, when the run failed.
type RunResponse struct {
	Run           *run.Run                  `json:"run"`
	Entities      []extraction.Entity       `json:"entities,omitempty"`
	Relationships []extraction.Relationship `json:"relationships,omitempty"`
	Error         string                    `json:"error,omitempty"`
}

// ListRunsResponse is the response body for GET /api/v1/orgs/:org_id/runs.
type ListRunsResponse struct {
	Runs []*run.Run `json:"runs"`
}

// RunEventsResponse is the response body for GET /api/v1/runs/:run_id/events.
type RunEventsResponse struct {
	Events []events.Event `json:"events"`
}

// ForgetRequest is the request body for DELETE /api/v1/orgs/:org_id/entities.
type ForgetRequest struct {
	EntityType string `json:"entity_type"`
	Value      any    `json:"value"`
}
