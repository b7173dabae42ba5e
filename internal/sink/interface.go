// Package sink implements the output side of the pipeline: stdout,
// message-bus, and HTTP-ingress sinks, plus a composite fan-out.
package sink

import (
	"context"

	"github.com/strahe/waltap/internal/pgwire"
)

// Sink is the single capability every output target exposes. It is
// invoked once per decoded change, sequentially per sink instance.
// Implementations must be safe to call concurrently with themselves
// (the composite may dispatch children in parallel) but never see
// concurrent calls for the *same* change from more than one caller.
type Sink interface {
	WriteChange(ctx context.Context, change pgwire.Change) error
	Close() error
	Type() string
}

var (
	_ Sink = (*StdoutSink)(nil)
	_ Sink = (*BusSink)(nil)
	_ Sink = (*HTTPSink)(nil)
	_ Sink = (*Composite)(nil)
)
