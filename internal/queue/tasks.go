package queue

import (
	"encoding/json"
	"fmt"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
	"github.com/google/uuid"
)

// Task names routed through the broker.
const (
	TaskScan   = "execute_scan_job"
	TaskTriage = "execute_triage_job"
)

// Envelope is the wire format for every queued job. Body holds the
// task-specific payload.
type Envelope struct {
	Task    string          `json:"task"`
	ID      string          `json:"id"`
	Retries int             `json:"retries"`
	Body    json.RawMessage `json:"body"`
}

// ScanJob asks a worker to run a full scan of a project.
type ScanJob struct {
	Project  string              `json:"project"`
	Path     string              `json:"path,omitempty"` // pre-staged source, skips clone
	Metadata models.ScanMetadata `json:"metadata"`
}

// TriageJob asks a worker to run the AI workflow over already-persisted
// findings, detached from the scan that produced them.
type TriageJob struct {
	ScanID          int64            `json:"scan_id"`
	Project         string           `json:"project"`
	CommitSHA       string           `json:"commit_sha"`
	Findings        []models.Finding `json:"findings"`
	Token           string           `json:"token,omitempty"`
	LocalSourcePath string           `json:"local_source_path"`
}

// NewEnvelope wraps payload into a fresh Envelope with a generated task id.
func NewEnvelope(task string, payload interface{}) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", task, err)
	}
	return &Envelope{
		Task: task,
		ID:   uuid.NewString(),
		Body: body,
	}, nil
}

// Decode unmarshals the envelope body into dest.
func (e *Envelope) Decode(dest interface{}) error {
	if err := json.Unmarshal(e.Body, dest); err != nil {
		return fmt.Errorf("decoding %s task %s: %w", e.Task, e.ID, err)
	}
	return nil
}
