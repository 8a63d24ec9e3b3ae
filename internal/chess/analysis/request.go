package analysis

import (
	"context"
	"sync"
)

// Result is the outcome of one best-move request. Stale results were
// superseded by a later stop and never carry a move.
type Result struct {
	ID     uint64
	FEN    string
	Move   string
	Ponder string
	Stale  bool
	Err    error
}

// Usable reports whether the result carries a move worth applying.
func (r Result) Usable() bool {
	return r.Err == nil && !r.Stale && r.Move != ""
}

// Request is a pending best-move search.
type Request struct {
	ID         uint64
	FEN        string
	Difficulty int

	once   sync.Once
	done   chan struct{}
	result Result
}

// NewRequest returns an unsettled request. The coordinator settles the
// requests it issues; other producers call Settle.
func NewRequest(id uint64, fen string, difficulty int) *Request {
	return &Request{
		ID:         id,
		FEN:        fen,
		Difficulty: difficulty,
		done:       make(chan struct{}),
	}
}

// resolve settles the request once. Later calls are ignored.
func (r *Request) resolve(res Result) {
	r.once.Do(func() {
		res.ID = r.ID
		res.FEN = r.FEN
		r.result = res
		close(r.done)
	})
}

func (r *Request) Settle(res Result) { r.resolve(res) }

func (r *Request) Done() <-chan struct{} { return r.done }

// Result returns the outcome and whether the request has settled.
func (r *Request) Result() (Result, bool) {
	select {
	case <-r.done:
		return r.result, true
	default:
		return Result{}, false
	}
}

func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
