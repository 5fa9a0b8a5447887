package delegation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   Intent
		ok     bool
	}{
		{
			name:   "marker line",
			output: "I can't do this myself.\n[DELEGATE:researcher] find three papers on WAL checkpoints\n",
			want:   Intent{TargetRole: "researcher", Task: "find three papers on WAL checkpoints"},
			ok:     true,
		},
		{
			name:   "padded role",
			output: "  [DELEGATE: Code Reviewer ]  review PR 12",
			want:   Intent{TargetRole: "Code Reviewer", Task: "review PR 12"},
			ok:     true,
		},
		{name: "no marker", output: "all done", ok: false},
		{name: "marker without task", output: "[DELEGATE:ops]", ok: false},
		{name: "not at line start", output: "say [DELEGATE:ops] restart", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Detect(tc.output)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestRequest_Expired(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	r := NewRequest(uuid.New(), "alpha", 1, 1, "ops", "restart", now, time.Hour)
	assert.False(t, r.Expired(now.Add(59*time.Minute)))
	assert.True(t, r.Expired(now.Add(time.Hour)))
}
