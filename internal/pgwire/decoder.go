package pgwire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// reader is a forward-only cursor over one pgoutput message. Every
// read method returns ErrShortBuffer, wrapped with the offset it
// failed at, when the requested field would run past the end of buf.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return v, nil
}

// cstr reads a NUL-terminated string and validates it as UTF-8.
func (r *reader) cstr() (string, error) {
	start := r.off
	for {
		if r.off >= len(r.buf) {
			return "", fmt.Errorf("%w: unterminated string starting at offset %d", ErrShortBuffer, start)
		}
		if r.buf[r.off] == 0 {
			s := r.buf[start:r.off]
			r.off++
			if !utf8.Valid(s) {
				return "", fmt.Errorf("%w: field at offset %d", ErrBadUTF8, start)
			}
			return string(s), nil
		}
		r.off++
	}
}

// Decode parses exactly one pgoutput message in buf. It returns the
// decoded Change, the number of bytes consumed (always len(buf) for a
// well-formed buffer), and any decode error. A Relation message both
// is returned as a value and, as a side effect, is written into
// cache so that later row-mutation messages in the same buffer stream
// resolve correctly.
func Decode(buf []byte, cache *Cache) (Change, int, error) {
	if len(buf) == 0 {
		return nil, 0, fmt.Errorf("%w: empty message", ErrShortBuffer)
	}
	r := &reader{buf: buf}
	tag, _ := r.u8()

	var (
		change Change
		err    error
	)
	switch tag {
	case 'B':
		change, err = decodeBegin(r)
	case 'C':
		change, err = decodeCommit(r)
	case 'R':
		change, err = decodeRelation(r, cache)
	case 'I':
		change, err = decodeInsert(r, cache)
	case 'U':
		change, err = decodeUpdate(r, cache)
	case 'D':
		change, err = decodeDelete(r, cache)
	case 'T':
		change, err = decodeTruncate(r)
	case 'Y':
		change, err = decodeType(r)
	default:
		err = fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag)
	}
	if err != nil {
		return nil, r.off, err
	}
	return change, r.off, nil
}

func decodeBegin(r *reader) (Change, error) {
	finalLSN, err := r.u64()
	if err != nil {
		return nil, err
	}
	ts, err := r.i64()
	if err != nil {
		return nil, err
	}
	xid, err := r.u32()
	if err != nil {
		return nil, err
	}
	return Begin{FinalLSN: LSN(finalLSN), Timestamp: ts, Xid: xid}, nil
}

func decodeCommit(r *reader) (Change, error) {
	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	commitLSN, err := r.u64()
	if err != nil {
		return nil, err
	}
	endLSN, err := r.u64()
	if err != nil {
		return nil, err
	}
	ts, err := r.i64()
	if err != nil {
		return nil, err
	}
	return Commit{Flags: flags, CommitLSN: LSN(commitLSN), EndLSN: LSN(endLSN), Timestamp: ts}, nil
}

func decodeRelation(r *reader, cache *Cache) (Change, error) {
	relID, err := r.u32()
	if err != nil {
		return nil, err
	}
	schema, err := r.cstr()
	if err != nil {
		return nil, err
	}
	table, err := r.cstr()
	if err != nil {
		return nil, err
	}
	identity, err := r.u8()
	if err != nil {
		return nil, err
	}
	colCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	columns := make([]ColumnDescriptor, colCount)
	for i := range columns {
		flags, err := r.u8()
		if err != nil {
			return nil, err
		}
		name, err := r.cstr()
		if err != nil {
			return nil, err
		}
		typeOID, err := r.u32()
		if err != nil {
			return nil, err
		}
		if _, err := r.i32(); err != nil { // type modifier, unused
			return nil, err
		}
		columns[i] = ColumnDescriptor{Name: name, TypeOID: typeOID, Flags: flags}
	}

	info := RelationInfo{
		RelationID:      relID,
		Schema:          schema,
		Table:           table,
		Columns:         columns,
		ReplicaIdentity: ReplicaIdentity(identity),
	}
	cache.Put(info)
	return Relation{RelationInfo: info}, nil
}

func decodeTuple(r *reader) (Tuple, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	tuple := make(Tuple, count)
	for i := range tuple {
		marker, err := r.u8()
		if err != nil {
			return nil, err
		}
		switch marker {
		case 'n':
			tuple[i] = TupleValue{Kind: ValueNull}
		case 'u':
			tuple[i] = TupleValue{Kind: ValueUnchanged}
		case 't':
			length, err := r.u32()
			if err != nil {
				return nil, err
			}
			data, err := r.bytes(length)
			if err != nil {
				return nil, err
			}
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("%w: column %d", ErrBadUTF8, i)
			}
			tuple[i] = TupleValue{Kind: ValueText, Text: data}
		default:
			return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownValueKind, marker)
		}
	}
	return tuple, nil
}

func decodeInsert(r *reader, cache *Cache) (Change, error) {
	relID, err := r.u32()
	if err != nil {
		return nil, err
	}
	marker, err := r.u8()
	if err != nil {
		return nil, err
	}
	if marker != 'N' {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTupleKind, marker)
	}
	new, err := decodeTuple(r)
	if err != nil {
		return nil, err
	}
	if _, ok := cache.Get(relID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRelation, relID)
	}
	return Insert{RelationID: relID, New: new}, nil
}

func decodeUpdate(r *reader, cache *Cache) (Change, error) {
	relID, err := r.u32()
	if err != nil {
		return nil, err
	}
	if _, ok := cache.Get(relID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRelation, relID)
	}

	marker, err := r.u8()
	if err != nil {
		return nil, err
	}

	var oldTuple, keyTuple *Tuple
	switch marker {
	case 'K':
		tup, err := decodeTuple(r)
		if err != nil {
			return nil, err
		}
		keyTuple = &tup
		marker, err = r.u8()
		if err != nil {
			return nil, err
		}
	case 'O':
		tup, err := decodeTuple(r)
		if err != nil {
			return nil, err
		}
		oldTuple = &tup
		marker, err = r.u8()
		if err != nil {
			return nil, err
		}
	case 'N':
		// no key/old tuple; marker already sits on 'N'.
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTupleKind, marker)
	}

	if marker != 'N' {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTupleKind, marker)
	}
	newTuple, err := decodeTuple(r)
	if err != nil {
		return nil, err
	}

	return Update{RelationID: relID, Old: oldTuple, Key: keyTuple, New: newTuple}, nil
}

func decodeDelete(r *reader, cache *Cache) (Change, error) {
	relID, err := r.u32()
	if err != nil {
		return nil, err
	}
	if _, ok := cache.Get(relID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRelation, relID)
	}

	marker, err := r.u8()
	if err != nil {
		return nil, err
	}

	tup, err := decodeTuple(r)
	if err != nil {
		return nil, err
	}

	switch marker {
	case 'K':
		return Delete{RelationID: relID, Key: &tup}, nil
	case 'O':
		return Delete{RelationID: relID, Old: &tup}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTupleKind, marker)
	}
}

func decodeTruncate(r *reader) (Change, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	options, err := r.u8()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, count)
	for i := range ids {
		id, err := r.u32()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return Truncate{RelationIDs: ids, Options: options}, nil
}

func decodeType(r *reader) (Change, error) {
	typeOID, err := r.u32()
	if err != nil {
		return nil, err
	}
	schema, err := r.cstr()
	if err != nil {
		return nil, err
	}
	name, err := r.cstr()
	if err != nil {
		return nil, err
	}
	return Type{TypeOID: typeOID, Schema: schema, Name: name}, nil
}
