package chat

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_messenger.go -package=mocks . Messenger

import (
	"context"
	"errors"
	"strings"
)

// MaxMessageRunes is the longest text sent inline; longer replies go out as
// a document.
const MaxMessageRunes = 4000

// Callback actions carried in inline button data.
const (
	ActionApprove           = "approve"
	ActionDeny              = "deny"
	ActionDelegationApprove = "dlg_approve"
	ActionDelegationDeny    = "dlg_deny"
)

var ErrMalformedCallback = errors.New("malformed callback data")

// Button is one inline keyboard button.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Messenger is the outbound side of the chat gateway.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]Button) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error
	SendTyping(ctx context.Context, chatID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Callback is parsed inline button data of the form action:id[:extra].
type Callback struct {
	Action string
	ID     string
	Extra  string
}

// ParseCallback splits data into action, id and optional extra. Extra may
// itself contain colons.
func ParseCallback(data string) (Callback, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Callback{}, ErrMalformedCallback
	}
	cb := Callback{Action: parts[0], ID: parts[1]}
	if len(parts) == 3 {
		cb.Extra = parts[2]
	}
	return cb, nil
}

// Data encodes c back into callback data.
func (c Callback) Data() string {
	s := c.Action + ":" + c.ID
	if c.Extra != "" {
		s += ":" + c.Extra
	}
	return s
}

// DecisionButtons returns a one-row approve/deny keyboard for id.
func DecisionButtons(approveAction, denyAction, id string) [][]Button {
	return [][]Button{{
		{Text: "✅ Approve", Data: Callback{Action: approveAction, ID: id}.Data()},
		{Text: "❌ Deny", Data: Callback{Action: denyAction, ID: id}.Data()},
	}}
}
