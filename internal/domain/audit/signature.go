package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"time"
)

// Status and ApprovedBy change after creation, so they are not signed.
type signaturePayload struct {
	ID            string `json:"id"`
	AgentID       string `json:"agentId"`
	UserID        int64  `json:"userId"`
	ActionType    string `json:"actionType"`
	Command       string `json:"command"`
	FullResponse  string `json:"fullResponse"`
	SandboxHandle string `json:"sandboxHandle,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

func buildSignaturePayload(e *Entry) signaturePayload {
	return signaturePayload{
		ID:            e.ID.String(),
		AgentID:       e.AgentID.String(),
		UserID:        e.UserID,
		ActionType:    string(e.ActionType),
		Command:       e.Command,
		FullResponse:  e.FullResponse,
		SandboxHandle: e.SandboxHandle,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Sign generates an HMAC signature over the immutable fields of e.
func Sign(e *Entry, key []byte) ([]byte, error) {
	data, err := json.Marshal(buildSignaturePayload(e))
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify checks e.Signature against key.
func Verify(e *Entry, key []byte) (bool, error) {
	if len(e.Signature) == 0 {
		return false, nil
	}
	expected, err := Sign(e, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, e.Signature), nil
}
