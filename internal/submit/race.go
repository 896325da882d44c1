package submit

import (
	"context"
	"time"
)

// Attempt is one cancellable delivery path. It must return promptly once ctx
// is done and release every listener it registered before returning.
type Attempt struct {
	Name string
	// Delay postpones the start of the attempt. If another attempt settles
	// during the delay, this one never starts.
	Delay time.Duration
	Run   func(ctx context.Context) error
}

// Race runs the attempts concurrently and returns the result of the first one
// to settle. The remaining attempts are cancelled and Race waits for them to
// return, so no attempt outlives the call. If nothing settles before timeout,
// Race returns ErrTimeout.
func Race(parent context.Context, timeout time.Duration, attempts ...Attempt) (winner string, err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(attempts))
	done := make(chan struct{}, len(attempts))

	for _, a := range attempts {
		go func(a Attempt) {
			defer func() { done <- struct{}{} }()
			if a.Delay > 0 {
				t := time.NewTimer(a.Delay)
				defer t.Stop()
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
			err := a.Run(ctx)
			if ctx.Err() != nil {
				// Lost the race or timed out; the result is discarded.
				return
			}
			results <- result{name: a.Name, err: err}
		}(a)
	}

	wait := func() {
		cancel()
		for range attempts {
			<-done
		}
	}

	select {
	case r := <-results:
		wait()
		return r.name, r.err
	case <-ctx.Done():
		wait()
		// An attempt may have settled just as the deadline passed.
		select {
		case r := <-results:
			return r.name, r.err
		default:
		}
		if err := parent.Err(); err != nil {
			return "", err
		}
		return "", ErrTimeout
	}
}
