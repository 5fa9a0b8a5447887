package approval

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/hermitshell/hermitshell/internal/domain/agent"
)

var errNotBoolean = errors.New("approval policy did not evaluate to boolean")

// Policy decides whether a run must be gated. An agent's RequireApproval
// flag always gates; the optional expression can gate more runs. Available
// parameters: agent, role, userId, message, messageLength.
type Policy struct {
	expr *govaluate.EvaluableExpression
}

// NewPolicy compiles expression. Empty, "true" and "false" are accepted.
func NewPolicy(expression string) (*Policy, error) {
	cond := strings.TrimSpace(expression)
	if cond == "" || strings.EqualFold(cond, "false") {
		return &Policy{}, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return nil, err
	}
	return &Policy{expr: expr}, nil
}

// Required reports whether a run of a for userID with message needs human
// approval. Evaluation errors gate the run.
func (p *Policy) Required(a *agent.Agent, userID int64, message string) (bool, error) {
	if a.RequireApproval {
		return true, nil
	}
	if p == nil || p.expr == nil {
		return false, nil
	}
	result, err := p.expr.Evaluate(map[string]interface{}{
		"agent":         a.Name,
		"role":          a.Role,
		"userId":        float64(userID),
		"message":       message,
		"messageLength": float64(len(message)),
	})
	if err != nil {
		return true, err
	}
	v, ok := result.(bool)
	if !ok {
		return true, errNotBoolean
	}
	return v, nil
}
