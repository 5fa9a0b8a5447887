package budget

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-day key stored in LastResetDate.
const DateLayout = "2006-01-02"

// Precision is the number of decimal places spend is compared at. Residue
// below one micro-unit counts as spent.
const Precision = 6

// Budget tracks daily spend for one agent.
type Budget struct {
	AgentID       uuid.UUID `json:"agentId"`
	DailyLimit    float64   `json:"dailyLimit"`
	CurrentSpend  float64   `json:"currentSpend"`
	LastResetDate string    `json:"lastResetDate"`
}

// Day returns the process-local calendar day of t.
func Day(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// New returns a budget with no spend, reset as of now.
func New(agentID uuid.UUID, dailyLimit float64, now time.Time) *Budget {
	return &Budget{
		AgentID:       agentID,
		DailyLimit:    dailyLimit,
		LastResetDate: Day(now),
	}
}

// NeedsReset reports whether today differs from the last reset day.
func (b *Budget) NeedsReset(today string) bool {
	return b.LastResetDate != today
}

// CanSpend reports whether spend is still under the daily limit.
func (b *Budget) CanSpend() bool {
	return units(b.CurrentSpend) < units(b.DailyLimit)
}

func units(v float64) int64 {
	return int64(math.Round(v * math.Pow10(Precision)))
}

// Remaining returns the unspent part of the limit, never negative.
func (b *Budget) Remaining() float64 {
	if r := b.DailyLimit - b.CurrentSpend; r > 0 {
		return r
	}
	return 0
}
