package sink

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strahe/waltap/internal/pgwire"
	"github.com/strahe/waltap/pkg/log"
)

// Composite fans a change out to every child sink in configuration
// order. A child failure is logged but never prevents the remaining
// children from being attempted; the composite's result is the first
// error encountered, or nil if every child succeeded. Children are
// dispatched concurrently and Composite waits for all of them before
// returning, so a slow child cannot stall the others.
type Composite struct {
	children []Sink
	log      zerolog.Logger
}

func NewComposite(children ...Sink) *Composite {
	return &Composite{children: children, log: log.Named("composite")}
}

func (c *Composite) Type() string { return "composite" }

func (c *Composite) Close() error {
	var first error
	for _, child := range c.children {
		if err := child.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Composite) WriteChange(ctx context.Context, change pgwire.Change) error {
	if len(c.children) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, child := range c.children {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.WriteChange(ctx, change); err != nil {
				c.log.Error().Err(err).Str("sink", s.Type()).Msg("sink write failed")
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(child)
	}
	wg.Wait()
	return firstErr
}
