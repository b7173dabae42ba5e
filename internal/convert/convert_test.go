package convert_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strahe/waltap/internal/convert"
	"github.com/strahe/waltap/internal/pgwire"
)

func usersRelation() pgwire.RelationInfo {
	return pgwire.RelationInfo{
		RelationID: 1,
		Schema:     "public",
		Table:      "users",
		Columns: []pgwire.ColumnDescriptor{
			{Name: "id", TypeOID: 23, Flags: 1},
			{Name: "name", TypeOID: 1043, Flags: 0},
		},
		ReplicaIdentity: pgwire.ReplicaIdentityDefault,
	}
}

func text(s string) pgwire.TupleValue { return pgwire.TupleValue{Kind: pgwire.ValueText, Text: []byte(s)} }
func null() pgwire.TupleValue         { return pgwire.TupleValue{Kind: pgwire.ValueNull} }
func unchanged() pgwire.TupleValue    { return pgwire.TupleValue{Kind: pgwire.ValueUnchanged} }

func cacheWithUsers() *pgwire.Cache {
	c := pgwire.NewCache()
	c.Put(usersRelation())
	return c
}

func TestRawRoundTripsTopLevelKey(t *testing.T) {
	cache := cacheWithUsers()
	cases := []pgwire.Change{
		pgwire.Begin{FinalLSN: 1, Timestamp: 1, Xid: 1},
		pgwire.Commit{CommitLSN: 1, EndLSN: 2, Timestamp: 1},
		pgwire.Relation{RelationInfo: usersRelation()},
		pgwire.Insert{RelationID: 1, New: pgwire.Tuple{text("42"), text("Alice")}},
		pgwire.Update{RelationID: 1, New: pgwire.Tuple{text("42"), text("Alicia")}},
		pgwire.Delete{RelationID: 1, Key: &pgwire.Tuple{text("42"), null()}},
		pgwire.Truncate{RelationIDs: []uint32{1}},
		pgwire.Type{TypeOID: 16, Schema: "pg_catalog", Name: "bool"},
	}
	for _, change := range cases {
		out, err := convert.Raw(cache, change, false)
		require.NoError(t, err)

		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &doc))
		require.Len(t, doc, 1)
		_, ok := doc[string(change.Kind())]
		require.True(t, ok, "expected top-level key %q in %s", change.Kind(), out)
	}
}

func TestRawPrettyIndents(t *testing.T) {
	cache := cacheWithUsers()
	out, err := convert.Raw(cache, pgwire.Insert{RelationID: 1, New: pgwire.Tuple{text("42"), text("Alice")}}, true)
	require.NoError(t, err)
	require.Contains(t, string(out), "\n  ")
}

func TestScenarioA_InsertCDC(t *testing.T) {
	cache := cacheWithUsers()
	cdc := convert.NewCDC(cache, "waltap", "0.1.0")
	out, err := cdc.Render(pgwire.Insert{RelationID: 1, New: pgwire.Tuple{text("42"), text("Alice")}})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Nil(t, doc["before"])
	after := doc["after"].(map[string]any)
	require.Equal(t, float64(42), after["id"])
	require.Equal(t, "Alice", after["name"])
	require.Equal(t, "c", doc["op"])
	require.Nil(t, doc["transaction"])
	source := doc["source"].(map[string]any)
	require.Equal(t, "public", source["schema"])
	require.Equal(t, "users", source["table"])
}

func TestScenarioB_UpdateInsertDelete(t *testing.T) {
	cache := cacheWithUsers()
	events, err := convert.InsertDelete(cache, pgwire.Update{
		RelationID: 1,
		Old:        &pgwire.Tuple{text("42"), text("Alice")},
		New:        pgwire.Tuple{text("42"), text("Alicia")},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, map[string]any{"id": int64(42), "name": "Alice"}, events[0].Delete)
	require.Nil(t, events[0].Insert)
	require.Equal(t, map[string]any{"id": int64(42), "name": "Alicia"}, events[1].Insert)
	require.Nil(t, events[1].Delete)
}

func TestScenarioC_DeleteKeyOnlyCDC(t *testing.T) {
	cache := cacheWithUsers()
	cdc := convert.NewCDC(cache, "waltap", "0.1.0")
	out, err := cdc.Render(pgwire.Delete{RelationID: 1, Key: &pgwire.Tuple{text("42"), null()}})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	before := doc["before"].(map[string]any)
	require.Equal(t, float64(42), before["id"])
	require.Nil(t, before["name"])
	require.Nil(t, doc["after"])
	require.Equal(t, "d", doc["op"])
}

func TestScenarioD_UnchangedOmitted(t *testing.T) {
	cache := cacheWithUsers()
	events, err := convert.InsertDelete(cache, pgwire.Update{
		RelationID: 1,
		New:        pgwire.Tuple{text("42"), unchanged()},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	insert := events[1].Insert
	_, hasName := insert["name"]
	require.False(t, hasName)
	require.Equal(t, int64(42), insert["id"])
}

func TestScenarioD_UpdateWithNoOldOrKeyDerivesDeleteIdentity(t *testing.T) {
	// REPLICA IDENTITY DEFAULT, no change to the key column: the wire
	// message carries neither Old nor Key, but the delete-half must
	// still identify the row instead of serializing to a bare "{}".
	cache := cacheWithUsers()
	events, err := convert.InsertDelete(cache, pgwire.Update{
		RelationID: 1,
		New:        pgwire.Tuple{text("42"), text("Alicia")},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, map[string]any{"id": int64(42)}, events[0].Delete)
	require.Nil(t, events[0].Insert)

	out, err := json.Marshal(events[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"delete":{"id":42}}`, string(out))
	require.NotEqual(t, "{}", string(out))
}

func TestScenarioE_TypeCoercionBoundary(t *testing.T) {
	v, ok := convert.Coerce(23, text("not-a-number"))
	require.True(t, ok)
	require.Equal(t, "not-a-number", v)

	v, ok = convert.Coerce(16, text("t"))
	require.True(t, ok)
	require.Equal(t, true, v)

	v, ok = convert.Coerce(16, text("f"))
	require.True(t, ok)
	require.Equal(t, false, v)

	v, ok = convert.Coerce(16, text("x"))
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestInsertDeleteDropsNonDataChanges(t *testing.T) {
	cache := cacheWithUsers()
	events, err := convert.InsertDelete(cache, pgwire.Begin{})
	require.NoError(t, err)
	require.Nil(t, events)
}

func TestCDCDropsNonDataChanges(t *testing.T) {
	cache := cacheWithUsers()
	cdc := convert.NewCDC(cache, "waltap", "0.1.0")
	out, err := cdc.Render(pgwire.Commit{})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestConvertUnknownRelationFails(t *testing.T) {
	cache := pgwire.NewCache()
	_, err := convert.InsertDelete(cache, pgwire.Insert{RelationID: 99, New: pgwire.Tuple{}})
	require.ErrorIs(t, err, pgwire.ErrUnknownRelation)
}
