package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domainApproval "github.com/hermitshell/hermitshell/internal/domain/approval"
)

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	items := s.Approvals.List(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{"approvals": items})
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "approvalId")
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
	item, err := s.Approvals.Resolve(r.Context(), id, approved, op.ActorString())
	if errors.Is(err, domainApproval.ErrUnknown) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, item)
}
