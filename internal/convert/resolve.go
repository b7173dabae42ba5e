package convert

import (
	"fmt"

	"github.com/strahe/waltap/internal/pgwire"
)

// resolve looks up the relation a row-mutation change refers to. Every
// row-mutation change's relation_id MUST already be in cache by the
// time a converter sees it; a miss here means the orchestrator handed
// the converter a change before its Relation frame arrived, which is
// a fatal condition the caller propagates.
func resolve(cache *pgwire.Cache, relationID uint32) (pgwire.RelationInfo, error) {
	info, ok := cache.Get(relationID)
	if !ok {
		return pgwire.RelationInfo{}, fmt.Errorf("convert: %w: relation_id %d", pgwire.ErrUnknownRelation, relationID)
	}
	return info, nil
}

// rawObject renders a tuple as column name -> raw string value, with
// no type coercion: Null becomes JSON null, Unchanged is omitted.
func rawObject(cols []pgwire.ColumnDescriptor, tuple pgwire.Tuple) map[string]any {
	obj := make(map[string]any, len(tuple))
	for i, v := range tuple {
		if i >= len(cols) {
			break
		}
		switch v.Kind {
		case pgwire.ValueNull:
			obj[cols[i].Name] = nil
		case pgwire.ValueUnchanged:
			// omitted
		case pgwire.ValueText:
			obj[cols[i].Name] = string(v.Text)
		}
	}
	return obj
}

// typedObject renders a tuple as column name -> type-coerced value,
// per the OID table in Coerce. Unchanged columns are omitted.
func typedObject(cols []pgwire.ColumnDescriptor, tuple pgwire.Tuple) map[string]any {
	obj := make(map[string]any, len(tuple))
	for i, v := range tuple {
		if i >= len(cols) {
			break
		}
		val, ok := Coerce(cols[i].TypeOID, v)
		if !ok {
			continue
		}
		obj[cols[i].Name] = val
	}
	return obj
}

// replicaIdentityObject renders just the replica-identity columns of
// tuple. Used to recover an UPDATE's pre-image identity when the wire
// message carries neither Old nor Key, i.e. REPLICA IDENTITY DEFAULT
// with no change to the key columns: the identity is still present,
// unchanged, in the new tuple.
func replicaIdentityObject(cols []pgwire.ColumnDescriptor, tuple pgwire.Tuple) map[string]any {
	obj := make(map[string]any, len(cols))
	for i, v := range tuple {
		if i >= len(cols) || !cols[i].PartOfReplicaIdentity() {
			continue
		}
		val, ok := Coerce(cols[i].TypeOID, v)
		if !ok {
			continue
		}
		obj[cols[i].Name] = val
	}
	return obj
}
