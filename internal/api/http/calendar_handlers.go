package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hermitshell/hermitshell/internal/application/orchestrator"
	"github.com/hermitshell/hermitshell/internal/domain/calendar"
)

type createEventRequest struct {
	UserID    int64      `json:"userId"`
	Title     string     `json:"title"`
	Prompt    string     `json:"prompt"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Color     string     `json:"color,omitempty"`
}

func (s *Server) listCalendar(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseUUIDParam(r, "agentId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid agentId")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "user_id required")
		return
	}
	limit, _ := parseLimitOffset(r, 50, 200)
	events, err := s.Orchestrator.UpcomingEvents(r.Context(), agentID, userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) createCalendarEvent(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseUUIDParam(r, "agentId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid agentId")
		return
	}
	var req createEventRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.UserID == 0 || req.StartTime.IsZero() {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "userId and startTime are required")
		return
	}
	e, err := s.Orchestrator.ScheduleEvent(r.Context(), agentID, orchestrator.EventInput{
		UserID:    req.UserID,
		Title:     req.Title,
		Prompt:    req.Prompt,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Color:     req.Color,
	})
	switch {
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case errors.Is(err, calendar.ErrMissingPrompt), errors.Is(err, calendar.ErrInvalidWindow):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, e)
}
