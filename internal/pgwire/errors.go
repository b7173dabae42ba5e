package pgwire

import "errors"

// Decode error kinds, matching the pgoutput wire-decoder contract.
// Each is fatal at the orchestrator level: once framing is lost or a
// relation reference can't resolve, the stream can no longer be
// trusted.
var (
	ErrShortBuffer      = errors.New("pgwire: short buffer")
	ErrBadUTF8          = errors.New("pgwire: invalid utf8 in string field")
	ErrUnknownTag       = errors.New("pgwire: unknown message tag")
	ErrUnknownTupleKind = errors.New("pgwire: unknown tuple kind")
	ErrUnknownValueKind = errors.New("pgwire: unknown value kind")
	ErrUnknownRelation  = errors.New("pgwire: unknown relation")
)
