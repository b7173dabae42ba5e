package pgwire_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strahe/waltap/internal/pgwire"
)

type buf struct {
	bytes.Buffer
}

func newBuf() *buf { return &buf{} }

func (b *buf) tag(t byte) *buf       { b.WriteByte(t); return b }
func (b *buf) u8(v uint8) *buf       { b.WriteByte(v); return b }
func (b *buf) u16(v uint16) *buf     { _ = binary.Write(b, binary.BigEndian, v); return b }
func (b *buf) u32(v uint32) *buf     { _ = binary.Write(b, binary.BigEndian, v); return b }
func (b *buf) i32(v int32) *buf      { _ = binary.Write(b, binary.BigEndian, v); return b }
func (b *buf) u64(v uint64) *buf     { _ = binary.Write(b, binary.BigEndian, v); return b }
func (b *buf) i64(v int64) *buf      { _ = binary.Write(b, binary.BigEndian, v); return b }
func (b *buf) cstr(s string) *buf    { b.WriteString(s); b.WriteByte(0); return b }
func (b *buf) textVal(s string) *buf { b.WriteByte('t'); b.u32(uint32(len(s))); b.WriteString(s); return b }
func (b *buf) nullVal() *buf         { b.WriteByte('n'); return b }
func (b *buf) unchangedVal() *buf    { b.WriteByte('u'); return b }

func relationBuf() *buf {
	b := newBuf()
	b.tag('R').u32(1).cstr("public").cstr("users").u8('d').u16(2)
	b.u8(1).cstr("id").u32(23).i32(-1)
	b.u8(0).cstr("name").u32(1043).i32(-1)
	return b
}

func TestDecodeConsumesExactlyBufferLength(t *testing.T) {
	cases := map[string]*buf{
		"begin":    newBuf().tag('B').u64(100).i64(1000).u32(7),
		"commit":   newBuf().tag('C').u8(0).u64(100).u64(200).i64(1000),
		"relation": relationBuf(),
		"truncate": newBuf().tag('T').u32(2).u8(0).u32(1).u32(2),
		"type":     newBuf().tag('Y').u32(16).cstr("pg_catalog").cstr("bool"),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			cache := pgwire.NewCache()
			_, n, err := pgwire.Decode(b.Bytes(), cache)
			require.NoError(t, err)
			require.Equal(t, b.Len(), n)
		})
	}
}

func TestDecodeBegin(t *testing.T) {
	cache := pgwire.NewCache()
	b := newBuf().tag('B').u64(0x1600000000 | 0x10).i64(123456).u32(42)
	change, _, err := pgwire.Decode(b.Bytes(), cache)
	require.NoError(t, err)
	begin, ok := change.(pgwire.Begin)
	require.True(t, ok)
	require.Equal(t, int64(123456), begin.Timestamp)
	require.Equal(t, uint32(42), begin.Xid)
	require.Equal(t, pgwire.KindBegin, change.Kind())
}

func TestDecodeRelationPopulatesCache(t *testing.T) {
	cache := pgwire.NewCache()
	change, _, err := pgwire.Decode(relationBuf().Bytes(), cache)
	require.NoError(t, err)
	rel, ok := change.(pgwire.Relation)
	require.True(t, ok)
	require.Equal(t, "public", rel.Schema)
	require.Equal(t, "users", rel.Table)
	require.Len(t, rel.Columns, 2)
	require.Equal(t, "id", rel.Columns[0].Name)
	require.True(t, rel.Columns[0].PartOfReplicaIdentity())
	require.False(t, rel.Columns[1].PartOfReplicaIdentity())

	cached, ok := cache.Get(1)
	require.True(t, ok)
	require.Equal(t, rel.RelationInfo, cached)
}

func TestDecodeRelationReplacesPriorEntry(t *testing.T) {
	cache := pgwire.NewCache()
	_, _, err := pgwire.Decode(relationBuf().Bytes(), cache)
	require.NoError(t, err)

	second := newBuf().tag('R').u32(1).cstr("public").cstr("users_v2").u8('f').u16(1)
	second.u8(1).cstr("id").u32(23).i32(-1)
	_, _, err = pgwire.Decode(second.Bytes(), cache)
	require.NoError(t, err)

	cached, ok := cache.Get(1)
	require.True(t, ok)
	require.Equal(t, "users_v2", cached.Table)
	require.Len(t, cached.Columns, 1)
}

func TestDecodeInsert(t *testing.T) {
	cache := pgwire.NewCache()
	_, _, err := pgwire.Decode(relationBuf().Bytes(), cache)
	require.NoError(t, err)

	b := newBuf().tag('I').u32(1).WriteByte2('N')
	b.u16(2)
	b.textVal("42")
	b.textVal("Alice")

	change, n, err := pgwire.Decode(b.Bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, b.Len(), n)
	insert, ok := change.(pgwire.Insert)
	require.True(t, ok)
	require.Len(t, insert.New, 2)
	require.Equal(t, pgwire.ValueText, insert.New[0].Kind)
	require.Equal(t, "42", string(insert.New[0].Text))
}

func TestDecodeInsertUnknownRelation(t *testing.T) {
	cache := pgwire.NewCache()
	b := newBuf().tag('I').u32(99).WriteByte2('N').u16(0)
	_, _, err := pgwire.Decode(b.Bytes(), cache)
	require.ErrorIs(t, err, pgwire.ErrUnknownRelation)
}

func TestDecodeUpdateVariants(t *testing.T) {
	cache := pgwire.NewCache()
	_, _, err := pgwire.Decode(relationBuf().Bytes(), cache)
	require.NoError(t, err)

	t.Run("new only", func(t *testing.T) {
		b := newBuf().tag('U').u32(1).WriteByte2('N').u16(2)
		b.textVal("42")
		b.textVal("Alicia")
		change, n, err := pgwire.Decode(b.Bytes(), cache)
		require.NoError(t, err)
		require.Equal(t, b.Len(), n)
		upd := change.(pgwire.Update)
		require.Nil(t, upd.Old)
		require.Nil(t, upd.Key)
		require.Len(t, upd.New, 2)
	})

	t.Run("old and new (replica identity full)", func(t *testing.T) {
		b := newBuf().tag('U').u32(1).WriteByte2('O').u16(2)
		b.textVal("42")
		b.textVal("Alice")
		b.WriteByte2('N').u16(2)
		b.textVal("42")
		b.textVal("Alicia")
		change, n, err := pgwire.Decode(b.Bytes(), cache)
		require.NoError(t, err)
		require.Equal(t, b.Len(), n)
		upd := change.(pgwire.Update)
		require.NotNil(t, upd.Old)
		require.Nil(t, upd.Key)
		require.Equal(t, "Alice", string((*upd.Old)[1].Text))
	})

	t.Run("key and new (replica identity key/index)", func(t *testing.T) {
		b := newBuf().tag('U').u32(1).WriteByte2('K').u16(2)
		b.textVal("42")
		b.nullVal()
		b.WriteByte2('N').u16(2)
		b.textVal("42")
		b.textVal("Alicia")
		change, n, err := pgwire.Decode(b.Bytes(), cache)
		require.NoError(t, err)
		require.Equal(t, b.Len(), n)
		upd := change.(pgwire.Update)
		require.NotNil(t, upd.Key)
		require.Nil(t, upd.Old)
	})

	t.Run("unchanged toast in new tuple", func(t *testing.T) {
		b := newBuf().tag('U').u32(1).WriteByte2('N').u16(2)
		b.textVal("42")
		b.unchangedVal()
		change, _, err := pgwire.Decode(b.Bytes(), cache)
		require.NoError(t, err)
		upd := change.(pgwire.Update)
		require.Equal(t, pgwire.ValueUnchanged, upd.New[1].Kind)
	})
}

func TestDecodeDeleteKeyOnly(t *testing.T) {
	cache := pgwire.NewCache()
	_, _, err := pgwire.Decode(relationBuf().Bytes(), cache)
	require.NoError(t, err)

	b := newBuf().tag('D').u32(1).WriteByte2('K').u16(2)
	b.textVal("42")
	b.nullVal()

	change, n, err := pgwire.Decode(b.Bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, b.Len(), n)
	del := change.(pgwire.Delete)
	require.NotNil(t, del.Key)
	require.Nil(t, del.Old)
	require.Equal(t, pgwire.ValueNull, (*del.Key)[1].Kind)
}

func TestDecodeTruncate(t *testing.T) {
	cache := pgwire.NewCache()
	b := newBuf().tag('T').u32(2).u8(1).u32(10).u32(20)
	change, n, err := pgwire.Decode(b.Bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, b.Len(), n)
	trunc := change.(pgwire.Truncate)
	require.Equal(t, []uint32{10, 20}, trunc.RelationIDs)
	require.Equal(t, uint8(1), trunc.Options)
}

func TestDecodeErrors(t *testing.T) {
	cache := pgwire.NewCache()

	t.Run("short buffer", func(t *testing.T) {
		_, _, err := pgwire.Decode([]byte{'B', 0, 0}, cache)
		require.ErrorIs(t, err, pgwire.ErrShortBuffer)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, _, err := pgwire.Decode([]byte{'Z'}, cache)
		require.ErrorIs(t, err, pgwire.ErrUnknownTag)
	})

	t.Run("unknown tuple kind", func(t *testing.T) {
		_, _, err := pgwire.Decode(relationBuf().Bytes(), cache)
		require.NoError(t, err)
		b := newBuf().tag('I').u32(1).WriteByte2('X').u16(0)
		_, _, err = pgwire.Decode(b.Bytes(), cache)
		require.ErrorIs(t, err, pgwire.ErrUnknownTupleKind)
	})

	t.Run("unknown value kind", func(t *testing.T) {
		b := newBuf().tag('I').u32(1).WriteByte2('N').u16(1).WriteByte2('x')
		_, _, err := pgwire.Decode(b.Bytes(), cache)
		require.ErrorIs(t, err, pgwire.ErrUnknownValueKind)
	})

	t.Run("bad utf8 in cstr", func(t *testing.T) {
		b := newBuf().tag('Y').u32(1)
		b.Write([]byte{0xff, 0xfe, 0})
		b.cstr("name")
		_, _, err := pgwire.Decode(b.Bytes(), cache)
		require.ErrorIs(t, err, pgwire.ErrBadUTF8)
	})
}

// WriteByte2 is a tiny helper to keep the fluent buf chain going after
// bytes.Buffer.WriteByte (which returns only error).
func (b *buf) WriteByte2(c byte) *buf {
	_ = b.WriteByte(c)
	return b
}
