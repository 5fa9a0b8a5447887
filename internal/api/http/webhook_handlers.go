package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hermitshell/hermitshell/internal/application/orchestrator"
	"github.com/hermitshell/hermitshell/internal/infrastructure/telegram"
)

// telegramWebhook acknowledges an update at once and processes it in the
// background; the Bot API retries slow webhooks.
func (s *Server) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(telegram.SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "bad webhook secret")
			return
		}
	}
	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.updates.Add(1)
	go func() {
		defer s.updates.Done()
		s.dispatch(ctx, upd)
	}()
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) dispatch(ctx context.Context, upd telegram.Update) {
	log := s.logger.With().Int64("update_id", upd.UpdateID).Logger()

	switch {
	case upd.CallbackQuery != nil:
		q := upd.CallbackQuery
		cb := orchestrator.Callback{
			ID:       q.ID,
			UserID:   q.From.ID,
			Approver: q.From.Approver(),
			Data:     q.Data,
		}
		if q.Message != nil {
			cb.ChatID = q.Message.Chat.ID
			cb.MessageID = q.Message.MessageID
		}
		if err := s.Orchestrator.HandleCallback(ctx, cb); err != nil {
			log.Warn().Err(err).Str("data", q.Data).Msg("callback not applied")
		}

	case upd.Message != nil && upd.Message.From != nil:
		m := upd.Message
		_, err := s.Orchestrator.HandleMessage(ctx, orchestrator.Inbound{
			ChatID:   m.Chat.ID,
			UserID:   m.From.ID,
			Username: m.From.Username,
			Text:     m.Text,
		})
		switch {
		case errors.Is(err, orchestrator.ErrUnauthorizedCaller):
			log.Warn().Err(err).Msg("message rejected")
		case err != nil:
			log.Info().Err(err).Int64("user_id", m.From.ID).Msg("message handled with error")
		}

	default:
		log.Debug().Msg("ignoring update")
	}
}
