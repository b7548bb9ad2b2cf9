package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// Result is the outcome of one adapter in a fan-out call.
type Result[T any] struct {
	Value T
	Err   error
}

type outcome[T any] struct {
	id  domain.ExchangeID
	res Result[T]
}

// fanOut runs call once per adapter and waits at most timeout for all of them.
// Adapters still running at the deadline get a timeout error, or a cancellation
// error when the caller went away first. Their goroutines see a cancelled context
// and write into a buffered channel nobody reads.
func fanOut[T any](
	ctx context.Context,
	timeout time.Duration,
	op string,
	targets []adapter.Adapter,
	call func(context.Context, adapter.Adapter) (T, error),
) map[domain.ExchangeID]Result[T] {
	results := make(map[domain.ExchangeID]Result[T], len(targets))
	if len(targets) == 0 {
		return results
	}

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome[T], len(targets))
	for _, a := range targets {
		go func(a adapter.Adapter) {
			v, err := call(fctx, a)
			ch <- outcome[T]{id: a.ID(), res: Result[T]{Value: v, Err: err}}
		}(a)
	}

	for len(results) < len(targets) {
		select {
		case o := <-ch:
			if o.res.Err != nil && fctx.Err() != nil && isContextErr(o.res.Err) {
				o.res.Err = abandoned(fctx, o.id, op, timeout)
			}
			results[o.id] = o.res
		case <-fctx.Done():
			for _, a := range targets {
				if _, ok := results[a.ID()]; !ok {
					results[a.ID()] = Result[T]{Err: abandoned(fctx, a.ID(), op, timeout)}
				}
			}
		}
	}
	return results
}

// abandoned says why the fan-out stopped waiting for id. fctx reports Canceled
// only when the parent was cancelled before the fan-out deadline.
func abandoned(fctx context.Context, id domain.ExchangeID, op string, timeout time.Duration) error {
	if errors.Is(fctx.Err(), context.Canceled) {
		return domain.CanceledError(id, op, fctx.Err())
	}
	return domain.TimeoutError(id, op, timeout)
}

func isContextErr(err error) bool {
	return domain.IsKind(err, domain.KindTimeout) ||
		domain.IsKind(err, domain.KindCanceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
