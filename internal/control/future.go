package control

import "context"

// Future is the pending outcome of a fired action. It resolves exactly once.
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res Result, err error) {
	f.res = res
	f.err = err
	close(f.done)
}

// Done is closed once the action has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the action finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
