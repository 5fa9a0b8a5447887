package delegation

import (
	"context"
	"errors"
	"time"
)

// ErrUnknown is returned when a resolution names no pending request.
var ErrUnknown = errors.New("unknown or already resolved delegation")

// Store holds pending delegation requests. Take removes the entry, so the
// first resolver wins.
type Store interface {
	Put(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, bool)
	Take(ctx context.Context, id string) (*Request, bool)
	List(ctx context.Context) []*Request
	TakeExpired(ctx context.Context, now time.Time) []*Request
}
