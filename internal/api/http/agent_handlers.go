package httpapi

import (
	"net/http"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
	"github.com/hermitshell/hermitshell/internal/domain/budget"
)

type agentView struct {
	*agent.Agent
	Budget *budget.Budget `json:"budget,omitempty"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Agents.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	items := make([]agentView, 0, len(agents))
	for _, a := range agents {
		v := agentView{Agent: a}
		if s.Budgets != nil {
			b, err := s.Budgets.Get(r.Context(), a.ID)
			if err != nil {
				s.logger.Warn().Err(err).Str("agent_id", a.ID.String()).Msg("budget unavailable")
			}
			v.Budget = b
		}
		items = append(items, v)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"agents": items})
}
