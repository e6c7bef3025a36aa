package api

import (
	"crypto/sha256"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/aegis/internal/engine"
	"github.com/triage-ai/aegis/internal/retrain"
	"github.com/triage-ai/aegis/internal/storage"
)

// handleCheckQuery implements POST /v1/check-query: PII scan plus the two
// local classifiers. No cloud or consensus calls happen here.
func (d *Dependencies) handleCheckQuery(w http.ResponseWriter, r *http.Request) {
	var req CheckQueryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "query is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	// Explicit request entities win over the project policy; both empty
	// means server defaults.
	entities := req.Entities
	if len(entities) == 0 {
		entities = proj.Policy.EffectiveEntities(nil)
	}

	res := d.Engine.CheckQuery(r.Context(), req.Query, entities)

	writeJSON(w, http.StatusOK, CheckQueryResponse{
		PIIStatus:     res.PIIStatus.String(),
		SLMFlag:       res.SLMFlag.String(),
		MaliciousFlag: res.MaliciousFlag.String(),
		FinalFlag:     res.FinalFlag.String(),
	})
}

// handleProcessPrompt implements POST /v1/process-prompt: expert review,
// fusion, decision, and — when accepted — generation plus the consensus
// check.
func (d *Dependencies) handleProcessPrompt(w http.ResponseWriter, r *http.Request) {
	var req ProcessPromptRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "prompt is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	initial, ok := parseFlagSet(req.PIIStatus, req.SLMFlag, req.MaliciousFlag)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown verdict value in initial flags"})
		return
	}

	result := d.Engine.ProcessPrompt(r.Context(), req.Prompt, initial, proj.Policy)

	// Fire-and-forget: persist the processed prompt to the message log.
	d.writeMessageEvent(req, result)

	writeJSON(w, http.StatusOK, ProcessPromptResponse{
		Status:            result.Status.String(),
		Details:           result.Details,
		FinalResponse:     result.FinalResponse,
		DiscrepancyReport: result.Discrepancy,
	})
}

// handleRetrain implements POST /v1/adaptive-retrain.
func (d *Dependencies) handleRetrain(w http.ResponseWriter, r *http.Request) {
	var req RetrainRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "prompt is required"})
		return
	}

	outcome, err := d.Retrainer.Retrain(r.Context(), retrain.TrainingExample{
		Text:  req.Prompt,
		Label: req.Label,
	})
	if err != nil {
		if errors.Is(err, retrain.ErrInvalidLabel) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid label."})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "retraining failed"})
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// parseFlagSet converts the three wire verdict strings into a LOCAL FlagSet.
func parseFlagSet(pii, slm, malicious string) (engine.FlagSet, bool) {
	p, ok := engine.ParseVerdict(pii)
	if !ok {
		return engine.FlagSet{}, false
	}
	s, ok := engine.ParseVerdict(slm)
	if !ok {
		return engine.FlagSet{}, false
	}
	m, ok := engine.ParseVerdict(malicious)
	if !ok {
		return engine.FlagSet{}, false
	}
	return engine.FlagSet{
		Origin:    engine.OriginLocal,
		PII:       p,
		Misuse:    s,
		Malicious: m,
	}, true
}

// writeMessageEvent builds a MessageEvent and fires it to the async writer.
func (d *Dependencies) writeMessageEvent(req ProcessPromptRequest, result engine.ProcessingResult) {
	hashBytes := sha256.Sum256([]byte(req.Prompt))

	response := ""
	if result.FinalResponse != nil {
		response = *result.FinalResponse
	}

	d.Writer.Write(&storage.MessageEvent{
		RequestID:     uuid.New().String(),
		EmployeeID:    req.EmployeeID,
		SessionID:     req.SessionID,
		Timestamp:     time.Now(),
		PromptPreview: storage.TruncatePrompt(req.Prompt, storage.PromptPreviewLength),
		PromptHash:    string(hashBytes[:]),
		PromptSize:    uint32(len(req.Prompt)),
		Response:      response,
		Status:        result.Status.String(),
		Details:       result.Details,
		Metadata:      req.Metadata,
	})
}
