// Package claim is the single compare-and-swap primitive shared by every
// component that must win a row before acting on it: the budget day reset
// and the calendar trigger claim both go through here.
package claim

import (
	"context"
	"errors"
)

// ErrAmbiguous is returned when a guarded update touched more than one row.
// A guard must address exactly one record.
var ErrAmbiguous = errors.New("claim: conditional update affected more than one row")

// Guard runs one conditional update of the form
// UPDATE ... SET <new state> WHERE <key> AND <expected old state>
// and returns the number of rows it affected.
type Guard func(ctx context.Context) (int64, error)

// Try runs g and reports whether the caller won the record. Losing the race
// (zero rows affected) is not an error.
func Try(ctx context.Context, g Guard) (bool, error) {
	n, err := g(ctx)
	if err != nil {
		return false, err
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrAmbiguous
	}
}

// Result summarizes a batch claim.
type Result[T any] struct {
	Won       []T
	Conflicts int
}

// Each attempts to claim every candidate in order with the guard built by
// guardFor and returns the ones this caller won. A guard error aborts the
// batch; records already won stay won and are returned with the error.
func Each[T any](ctx context.Context, candidates []T, guardFor func(T) Guard) (Result[T], error) {
	var res Result[T]
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		won, err := Try(ctx, guardFor(c))
		if err != nil {
			return res, err
		}
		if !won {
			res.Conflicts++
			continue
		}
		res.Won = append(res.Won, c)
	}
	return res, nil
}
