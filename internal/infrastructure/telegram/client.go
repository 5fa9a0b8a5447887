package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hermitshell/hermitshell/internal/domain/chat"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
)

const DefaultBaseURL = "https://api.telegram.org"

// APIError is a non-ok Bot API response.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

func (e *APIError) temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	Attempts    uint
	RatePerSec  float64
	Burst       int
	CallTimeout time.Duration
}

// Client is a chat.Messenger over the Telegram Bot API. Calls pass a rate
// limiter, a circuit breaker and bounded retries, in that order.
type Client struct {
	endpoint string
	http     *http.Client
	attempts uint
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func NewClient(opts Options, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 25
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	logger = logger.With().Str("service", "telegram").Logger()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if m != nil {
				m.GatewayBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	return &Client{
		endpoint: opts.BaseURL + "/bot" + opts.Token,
		http:     opts.HTTPClient,
		attempts: opts.Attempts,
		timeout:  opts.CallTimeout,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		logger:   logger,
	}
}

type inlineKeyboard struct {
	InlineKeyboard [][]chat.Button `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, buttons [][]chat.Button) (int64, error) {
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if len(buttons) > 0 {
		req.ReplyMarkup = &inlineKeyboard{InlineKeyboard: buttons}
	}
	var out sentMessage
	if err := c.callJSON(ctx, "sendMessage", req, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	return c.callJSON(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.callJSON(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.callJSON(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	return c.call(ctx, "sendDocument", func() (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
		if caption != "" {
			_ = mw.WriteField("caption", caption)
		}
		fw, err := mw.CreateFormFile("document", filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(content); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}, nil)
}

func (c *Client) callJSON(ctx context.Context, method string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.call(ctx, method, func() (io.Reader, string, error) {
		return bytes.NewReader(data), "application/json", nil
	}, out)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) call(ctx context.Context, method string, body func() (io.Reader, string, error), out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		// Permanent failures end the retry loop early but still surface.
		var permanent error
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
					return apiErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)
		retryErr := r.Do(func() error {
			err := c.once(ctx, method, body, out)
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.temporary() {
				permanent = err
				return nil
			}
			return err
		})
		if permanent != nil {
			return nil, permanent
		}
		return nil, retryErr
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Msg("telegram call failed")
	}
	return err
}

func (c *Client) once(ctx context.Context, method string, body func() (io.Reader, string, error), out any) error {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rd, contentType, err := body()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(tCtx, http.MethodPost, c.endpoint+"/"+method, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return &APIError{Code: resp.StatusCode, Description: "undecodable response"}
	}
	if !ar.OK {
		apiErr := &APIError{Code: ar.ErrorCode, Description: ar.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if ar.Parameters != nil && ar.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(ar.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out != nil && len(ar.Result) > 0 {
		return json.Unmarshal(ar.Result, out)
	}
	return nil
}
