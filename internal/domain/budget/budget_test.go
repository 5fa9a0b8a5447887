package budget

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBudget_CanSpend(t *testing.T) {
	cases := []struct {
		name  string
		limit float64
		spend float64
		want  bool
	}{
		{"fresh", 1.00, 0, true},
		{"just under", 1.00, 0.99, true},
		{"sub-micro residue counts as cap", 1.00, 0.9999999, false},
		{"one micro-unit under", 1.00, 0.999999, true},
		{"at cap", 1.00, 1.00, false},
		{"over cap", 1.00, 1.25, false},
		{"zero limit", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &Budget{DailyLimit: tc.limit, CurrentSpend: tc.spend}
			assert.Equal(t, tc.want, b.CanSpend())
		})
	}
}

func TestBudget_NeedsReset(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.Local)
	b := New(uuid.New(), 5, now)
	assert.False(t, b.NeedsReset(Day(now)))
	assert.True(t, b.NeedsReset(Day(now.Add(24*time.Hour))))
}

func TestBudget_Remaining(t *testing.T) {
	assert.InDelta(t, 0.25, (&Budget{DailyLimit: 1, CurrentSpend: 0.75}).Remaining(), 1e-9)
	assert.Equal(t, 0.0, (&Budget{DailyLimit: 1, CurrentSpend: 2}).Remaining())
}
