package httpapi

import "context"

type authContextKey string

const operatorKey authContextKey = "operator"

// Operator is the authenticated caller of an operator route.
type Operator struct {
	Subject string
}

// ActorString is what resolutions record as approvedBy.
func (o Operator) ActorString() string {
	return "operator:" + o.Subject
}

func withOperator(ctx context.Context, o *Operator) context.Context {
	if o == nil {
		return ctx
	}
	return context.WithValue(ctx, operatorKey, o)
}

func operatorFromContext(ctx context.Context) *Operator {
	val := ctx.Value(operatorKey)
	if v, ok := val.(*Operator); ok {
		return v
	}
	return nil
}
