// Package orchestrator wires the decoder, relation cache, and sink
// fan-out into the single per-change pipeline the rest of the tool
// drives: decode, update cache, dispatch, log and continue on sink
// error, propagate and stop on decode error.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/strahe/waltap/internal/pgwire"
	"github.com/strahe/waltap/internal/replication"
	"github.com/strahe/waltap/internal/sink"
	"github.com/strahe/waltap/pkg/log"
)

// Message is the upstream contract this orchestrator drives: a
// (wal_start, wal_end, data) triple, one per pgoutput message.
type Message = replication.Message

// Orchestrator owns the single Relation Cache and the sink every
// decoded change is dispatched to.
type Orchestrator struct {
	cache *pgwire.Cache
	sink  sink.Sink
}

func New(cache *pgwire.Cache, s sink.Sink) *Orchestrator {
	return &Orchestrator{cache: cache, sink: s}
}

// Cache returns the relation cache that Run's decoding writes into and
// the sinks read from.
func (o *Orchestrator) Cache() *pgwire.Cache { return o.cache }

// Run drains messages in arrival order until the channel closes, ctx
// is cancelled, or a decode error occurs. Decode errors (including
// cache-miss during decoding of a row mutation) are fatal and stop
// the stream; sink errors are logged and the loop continues.
func (o *Orchestrator) Run(ctx context.Context, messages <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := o.process(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, msg Message) error {
	change, n, err := pgwire.Decode(msg.Data, o.cache)
	if err != nil {
		return fmt.Errorf("orchestrator: decode at wal %s-%s: %w", msg.WALStart, msg.WALEnd, err)
	}
	if n != len(msg.Data) {
		log.Warn().
			Int("consumed", n).
			Int("length", len(msg.Data)).
			Msg("decoder did not consume the full message")
	}

	if err := o.sink.WriteChange(ctx, change); err != nil {
		log.Error().
			Err(err).
			Str("kind", string(change.Kind())).
			Msg("sink write failed, continuing")
	}
	return nil
}
