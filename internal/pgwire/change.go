// Package pgwire decodes pgoutput logical replication messages into a
// typed Change model and maintains the relation cache those messages
// are resolved against.
package pgwire

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// LSN is a PostgreSQL log sequence number, rendered as two hex
// half-words joined by a slash (e.g. "16/B374D848").
type LSN uint64

func (lsn LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// ParseLSN parses the "<upper>/<lower>" textual form PostgreSQL uses.
func ParseLSN(s string) (LSN, error) {
	upper, lower, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("pgwire: malformed LSN %q", s)
	}
	u, err := strconv.ParseUint(upper, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("pgwire: malformed LSN %q: %w", s, err)
	}
	l, err := strconv.ParseUint(lower, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("pgwire: malformed LSN %q: %w", s, err)
	}
	return LSN(u<<32 | l), nil
}

func (lsn *LSN) Scan(src any) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case string:
		parsed, err := ParseLSN(v)
		if err != nil {
			return err
		}
		*lsn = parsed
		return nil
	case []byte:
		return lsn.Scan(string(v))
	case uint64:
		*lsn = LSN(v)
		return nil
	default:
		return fmt.Errorf("pgwire: cannot scan %T into LSN", src)
	}
}

func (lsn LSN) Value() (driver.Value, error) {
	return lsn.String(), nil
}

// ReplicaIdentity mirrors pg_class.relreplident: the on-wire byte is
// the literal ASCII code PostgreSQL uses for the setting.
type ReplicaIdentity uint8

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

// ColumnDescriptor describes one column of a relation as reported by
// a RELATION message.
type ColumnDescriptor struct {
	Name    string
	TypeOID uint32
	Flags   uint8
}

// PartOfReplicaIdentity reports whether this column participates in
// the relation's replica identity (on-wire flags bit 0).
func (c ColumnDescriptor) PartOfReplicaIdentity() bool {
	return c.Flags&1 != 0
}

// RelationInfo is the cached schema for one relation_id.
type RelationInfo struct {
	RelationID      uint32
	Schema          string
	Table           string
	Columns         []ColumnDescriptor
	ReplicaIdentity ReplicaIdentity
}

// ValueKind tags a TupleValue's alternative.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueUnchanged
	ValueText
)

// TupleValue is one column's value within a Tuple: Null, Unchanged
// (TOASTed, not transmitted), or Text holding the raw bytes exactly
// as PostgreSQL sent them.
type TupleValue struct {
	Kind ValueKind
	Text []byte
}

// Tuple is the ordered sequence of values for one row mutation, one
// per column of the referenced relation at decode time.
type Tuple []TupleValue

// ChangeKind names a Change variant; it is also the top-level JSON
// key the raw converter emits for that variant.
type ChangeKind string

const (
	KindBegin    ChangeKind = "Begin"
	KindCommit   ChangeKind = "Commit"
	KindRelation ChangeKind = "Relation"
	KindInsert   ChangeKind = "Insert"
	KindUpdate   ChangeKind = "Update"
	KindDelete   ChangeKind = "Delete"
	KindTruncate ChangeKind = "Truncate"
	KindType     ChangeKind = "Type"
)

// Change is the common envelope for every decoded pgoutput message.
// Converters type-switch over the eight variants below. A Change of
// any other type is dropped by the CDC converter and the HTTP sink;
// Raw, Text, InsertDelete and the bus sink return an error for it.
type Change interface {
	Kind() ChangeKind
}

type Begin struct {
	FinalLSN  LSN
	Timestamp int64
	Xid       uint32
}

func (Begin) Kind() ChangeKind { return KindBegin }

type Commit struct {
	Flags     uint8
	CommitLSN LSN
	EndLSN    LSN
	Timestamp int64
}

func (Commit) Kind() ChangeKind { return KindCommit }

// Relation is both an event and, as a side effect of decoding, a
// Cache update.
type Relation struct {
	RelationInfo
}

func (Relation) Kind() ChangeKind { return KindRelation }

type Insert struct {
	RelationID uint32
	New        Tuple
}

func (Insert) Kind() ChangeKind { return KindInsert }

type Update struct {
	RelationID uint32
	Old        *Tuple // present only when replica identity is FULL
	Key        *Tuple // present only when key columns changed under KEY/INDEX identity
	New        Tuple
}

func (Update) Kind() ChangeKind { return KindUpdate }

type Delete struct {
	RelationID uint32
	Old        *Tuple
	Key        *Tuple
}

func (Delete) Kind() ChangeKind { return KindDelete }

type Truncate struct {
	RelationIDs []uint32
	Options     uint8
}

func (Truncate) Kind() ChangeKind { return KindTruncate }

// Type corresponds to the pgoutput 'Y' message, reporting a
// user-defined type referenced by a later relation.
type Type struct {
	TypeOID uint32
	Schema  string
	Name    string
}

func (Type) Kind() ChangeKind { return KindType }
