package api

import (
	"encoding/json"
	"time"

	"github.com/triage-ai/aegis/internal/engine"
)

// --- POST /v1/check-query ---

// CheckQueryRequest is the JSON body for the first-stage screen.
type CheckQueryRequest struct {
	Query      string            `json:"query"`
	Entities   []string          `json:"entities,omitempty"`
	EmployeeID string            `json:"employee_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CheckQueryResponse mirrors the QueryResponse shape of the screening
// service.
type CheckQueryResponse struct {
	PIIStatus     string `json:"pii_status"`
	SLMFlag       string `json:"slm_flag"`
	MaliciousFlag string `json:"malicious_flag"`
	FinalFlag     string `json:"final_flag"`
}

// --- POST /v1/process-prompt ---

// ProcessPromptRequest carries the prompt plus the first-stage verdicts.
type ProcessPromptRequest struct {
	Prompt        string            `json:"prompt"`
	PIIStatus     string            `json:"pii_status"`
	SLMFlag       string            `json:"slm_flag"`
	MaliciousFlag string            `json:"malicious_flag"`
	EmployeeID    string            `json:"employee_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ProcessPromptResponse is the terminal record for one prompt.
type ProcessPromptResponse struct {
	Status            string                    `json:"status"`
	Details           string                    `json:"details"`
	FinalResponse     *string                   `json:"final_response,omitempty"`
	DiscrepancyReport *engine.DiscrepancyReport `json:"discrepancy_report,omitempty"`
}

// --- POST /v1/adaptive-retrain ---

// RetrainRequest is the JSON body for a retraining trigger.
type RetrainRequest struct {
	Prompt string `json:"prompt"`
	Label  string `json:"label"`
}

// --- Policy CRUD ---

// UpdatePolicyReq is the JSON body for PATCH/PUT policy endpoints.
type UpdatePolicyReq struct {
	Config json.RawMessage `json:"config,omitempty"`
}

// PolicyResp is the JSON shape of one policy row.
type PolicyResp struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
