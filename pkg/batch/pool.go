package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/menta2k/street-inpaint/pkg/pipeline"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pipeline pool is closed")

// Factory builds the pipeline owned by one worker. Every call must return
// a pipeline with its own collaborators.
type Factory func(worker int) (*pipeline.Pipeline, error)

// Pool hands out per-worker pipelines. A pipeline is used by at most one
// goroutine between Acquire and Release.
type Pool struct {
	pipelines chan *pipeline.Pipeline
	size      int

	mu     sync.Mutex
	closed bool
}

// NewPool builds size pipelines up front.
func NewPool(size int, factory Factory) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		pipelines: make(chan *pipeline.Pipeline, size),
		size:      size,
	}
	for i := 0; i < size; i++ {
		pl, err := factory(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to initialize pipeline %d: %w", i, err)
		}
		p.pipelines <- pl
	}
	return p, nil
}

// Size returns the number of pipelines.
func (p *Pool) Size() int { return p.size }

// Acquire blocks until a pipeline is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*pipeline.Pipeline, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case pl, ok := <-p.pipelines:
		if !ok {
			return nil, ErrPoolClosed
		}
		return pl, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns pl to the pool.
func (p *Pool) Release(pl *pipeline.Pipeline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || pl == nil {
		return
	}
	p.pipelines <- pl
}

// Close drains the pool. Pipelines still checked out are dropped on Release.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.pipelines)
	for range p.pipelines {
	}
}
