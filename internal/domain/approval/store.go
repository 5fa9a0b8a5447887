package approval

import (
	"context"
	"time"
)

// Store holds pending approvals. Take is the claim: exactly one caller
// receives a given request.
type Store interface {
	Put(ctx context.Context, p *Pending) error
	Get(ctx context.Context, id string) (*Pending, bool)
	Take(ctx context.Context, id string) (*Pending, bool)
	List(ctx context.Context) []*Pending
	// TakeExpired removes and returns every request expired at now.
	TakeExpired(ctx context.Context, now time.Time) []*Pending
}

// Mailbox delivers a decision into a running sandbox. Delivery is one-way
// and write-once per decision; the consumer polls. A missing or stopped
// sandbox is not an error.
type Mailbox interface {
	Deliver(ctx context.Context, handle string, d Decision) error
}
