package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
)

func TestPolicy_Required(t *testing.T) {
	gated := agent.New("ops", "devops", "hermit/ops", true)
	free := agent.New("scribe", "writer", "hermit/scribe", false)

	tests := []struct {
		name    string
		expr    string
		a       *agent.Agent
		message string
		want    bool
		wantErr bool
	}{
		{name: "agent flag always gates", expr: "", a: gated, want: true},
		{name: "no expression", expr: "", a: free, want: false},
		{name: "literal false", expr: "false", a: free, want: false},
		{name: "literal true", expr: "true", a: free, want: true},
		{name: "role match", expr: "role == 'writer'", a: free, want: true},
		{name: "long messages", expr: "messageLength > 10", a: free, message: "short", want: false},
		{name: "non boolean gates", expr: "messageLength + 1", a: free, want: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.expr)
			require.NoError(t, err)
			got, err := p.Required(tt.a, 1, tt.message)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPolicy_InvalidExpression(t *testing.T) {
	_, err := NewPolicy("role ==")
	assert.Error(t, err)
}
