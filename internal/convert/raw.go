package convert

import (
	"encoding/json"
	"fmt"

	"github.com/strahe/waltap/internal/pgwire"
)

// Raw renders every Change variant as a single JSON object whose
// top-level key is the variant tag. It never drops an event. Tuples
// render with rawObject (string values, no type coercion), matching
// the on-wire representation rather than the typed one CDC/insert-
// delete use.
func Raw(cache *pgwire.Cache, change pgwire.Change, pretty bool) ([]byte, error) {
	body, err := rawBody(cache, change)
	if err != nil {
		return nil, err
	}
	envelope := map[string]any{string(change.Kind()): body}

	var out []byte
	if pretty {
		out, err = json.MarshalIndent(envelope, "", "  ")
	} else {
		out, err = json.Marshal(envelope)
	}
	if err != nil {
		return nil, fmt.Errorf("convert: marshal raw %s: %w", change.Kind(), err)
	}
	return append(out, '\n'), nil
}

func rawBody(cache *pgwire.Cache, change pgwire.Change) (map[string]any, error) {
	switch c := change.(type) {
	case pgwire.Begin:
		return map[string]any{
			"lsn":       c.FinalLSN.String(),
			"xid":       c.Xid,
			"timestamp": c.Timestamp,
		}, nil
	case pgwire.Commit:
		return map[string]any{
			"flags":      c.Flags,
			"commit_lsn": c.CommitLSN.String(),
			"end_lsn":    c.EndLSN.String(),
			"timestamp":  c.Timestamp,
		}, nil
	case pgwire.Relation:
		cols := make([]map[string]any, len(c.Columns))
		for i, col := range c.Columns {
			cols[i] = map[string]any{
				"name":     col.Name,
				"type_oid": col.TypeOID,
				"flags":    col.Flags,
			}
		}
		return map[string]any{
			"relation_id":      c.RelationID,
			"schema":           c.Schema,
			"table":            c.Table,
			"replica_identity": string(rune(c.ReplicaIdentity)),
			"columns":          cols,
		}, nil
	case pgwire.Insert:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"relation_id": c.RelationID,
			"schema":      info.Schema,
			"table":       info.Table,
			"new":         rawObject(info.Columns, c.New),
		}, nil
	case pgwire.Update:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		body := map[string]any{
			"relation_id": c.RelationID,
			"schema":      info.Schema,
			"table":       info.Table,
			"new":         rawObject(info.Columns, c.New),
		}
		if c.Old != nil {
			body["old"] = rawObject(info.Columns, *c.Old)
		} else {
			body["old"] = nil
		}
		if c.Key != nil {
			body["key"] = rawObject(info.Columns, *c.Key)
		} else {
			body["key"] = nil
		}
		return body, nil
	case pgwire.Delete:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		body := map[string]any{
			"relation_id": c.RelationID,
			"schema":      info.Schema,
			"table":       info.Table,
		}
		if c.Old != nil {
			body["old"] = rawObject(info.Columns, *c.Old)
		} else {
			body["old"] = nil
		}
		if c.Key != nil {
			body["key"] = rawObject(info.Columns, *c.Key)
		} else {
			body["key"] = nil
		}
		return body, nil
	case pgwire.Truncate:
		return map[string]any{
			"relation_ids": c.RelationIDs,
			"options":      c.Options,
		}, nil
	case pgwire.Type:
		return map[string]any{
			"type_oid": c.TypeOID,
			"schema":   c.Schema,
			"name":     c.Name,
		}, nil
	default:
		return nil, fmt.Errorf("convert: raw: unhandled change kind %s", change.Kind())
	}
}
