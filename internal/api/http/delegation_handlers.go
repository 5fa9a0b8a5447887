package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hermitshell/hermitshell/internal/domain/delegation"
)

func (s *Server) listDelegations(w http.ResponseWriter, r *http.Request) {
	items := s.Orchestrator.PendingDelegations(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{"delegations": items})
}

// decideDelegation resolves a delegation. An approval runs the target agent
// before responding.
func (s *Server) decideDelegation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "delegationId")
	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	approved, ok := req.approved()
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "decision must be approve or deny")
		return
	}
	op := operatorFromContext(r.Context())
	if op == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}

	item, output, err := s.Orchestrator.ResolveDelegation(r.Context(), id, approved, op.ActorString())
	if errors.Is(err, delegation.ErrUnknown) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	resp := map[string]interface{}{
		"delegation": item,
		"approved":   approved,
		"output":     output,
	}
	if err != nil {
		// the request was consumed; the run itself failed
		resp["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}
