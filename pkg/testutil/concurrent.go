package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/sentinel"
)

// ConcurrentResult tallies outcomes of a concurrent test run.
type ConcurrentResult struct {
	Successes     int32
	Errors        int32
	Conflicts     int32
	NotFounds     int32
	InvalidTokens int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds + r.InvalidTokens
}

// RunConcurrent starts goroutines copies of fn at once and buckets each error by
// kind: sentinel conflict/not-found, domain invalid_token, anything else.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, errs, conflicts, notFounds, invalid atomic.Int32
	start := make(chan struct{})

	for i := range goroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			case errors.Is(err, sentinel.ErrNotFound), dErrors.HasCode(err, dErrors.CodeNotFound):
				notFounds.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidToken):
				invalid.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:     successes.Load(),
		Errors:        errs.Load(),
		Conflicts:     conflicts.Load(),
		NotFounds:     notFounds.Load(),
		InvalidTokens: invalid.Load(),
	}
}

// RunConcurrentCollect runs fn concurrently and returns the success count and every error.
func RunConcurrentCollect(goroutines int, fn func(idx int) error) (int32, []error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes atomic.Int32
	var collected []error

	for i := range goroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := fn(idx); err != nil {
				mu.Lock()
				collected = append(collected, err)
				mu.Unlock()
				return
			}
			successes.Add(1)
		}(i)
	}
	wg.Wait()
	return successes.Load(), collected
}
