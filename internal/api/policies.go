package api

import (
	"net/http"

	"github.com/triage-ai/aegis/internal/store"
)

// handleGetPolicy implements GET /api/aegis/projects/{project_id}/policy.
func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	policy, err := d.Store.GetPolicy(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("get policy failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "database error"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "policy not found"})
		return
	}

	writeJSON(w, http.StatusOK, policyResp(policy))
}

// handleReplacePolicy implements PUT /api/aegis/projects/{project_id}/policy.
func (d *Dependencies) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	policy, err := d.Store.ReplacePolicy(r.Context(), projectID, store.ReplacePolicyParams{
		Config: req.Config,
	})
	if err != nil {
		d.Logger.Error("replace policy failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "database error"})
		return
	}

	writeJSON(w, http.StatusOK, policyResp(policy))
}

// handleUpdatePolicy implements PATCH /api/aegis/projects/{project_id}/policy.
func (d *Dependencies) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	params := store.UpdatePolicyParams{}
	if req.Config != nil {
		params.Config = &req.Config
	}

	policy, err := d.Store.UpdatePolicy(r.Context(), projectID, params)
	if err != nil {
		d.Logger.Error("update policy failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "database error"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "policy not found"})
		return
	}

	writeJSON(w, http.StatusOK, policyResp(policy))
}

func policyResp(p *store.Policy) PolicyResp {
	return PolicyResp{
		ID:        p.ID,
		ProjectID: p.ProjectID,
		Config:    p.Config,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
