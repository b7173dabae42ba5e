package convert

import (
	"fmt"

	"github.com/strahe/waltap/internal/pgwire"
)

// Event is one half of an insert-delete encoded mutation: exactly one
// of Insert or Delete is non-nil.
type Event struct {
	Insert map[string]any `json:"insert,omitempty"`
	Delete map[string]any `json:"delete,omitempty"`
}

// InsertDelete renders a data Change into the insert-delete encoding
// used by the Feldera-style HTTP ingress and the stdout "feldera"
// format. INSERT yields one event, DELETE one, UPDATE two (delete
// then insert) that callers MUST keep adjacent in whatever transport
// they use. Non-data changes yield (nil, nil).
func InsertDelete(cache *pgwire.Cache, change pgwire.Change) ([]Event, error) {
	switch c := change.(type) {
	case pgwire.Insert:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		return []Event{{Insert: typedObject(info.Columns, c.New)}}, nil
	case pgwire.Update:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		var old map[string]any
		switch {
		case c.Old != nil:
			old = typedObject(info.Columns, *c.Old)
		case c.Key != nil:
			old = typedObject(info.Columns, *c.Key)
		default:
			// REPLICA IDENTITY DEFAULT with no change to the key
			// columns: neither Old nor Key is sent on the wire, but
			// the row's identity is still present unchanged in New.
			old = replicaIdentityObject(info.Columns, c.New)
		}
		return []Event{
			{Delete: old},
			{Insert: typedObject(info.Columns, c.New)},
		}, nil
	case pgwire.Delete:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		var old map[string]any
		if c.Old != nil {
			old = typedObject(info.Columns, *c.Old)
		} else if c.Key != nil {
			old = typedObject(info.Columns, *c.Key)
		}
		return []Event{{Delete: old}}, nil
	case pgwire.Relation, pgwire.Begin, pgwire.Commit, pgwire.Truncate, pgwire.Type:
		return nil, nil
	default:
		return nil, fmt.Errorf("convert: insert-delete: unhandled change kind %s", change.Kind())
	}
}

// RelationKey returns "<schema>_<table>" for a data change's
// relation, as used for HTTP ingress table routing and the allow-list
// filter. ok is false for non-data changes.
func RelationKey(cache *pgwire.Cache, change pgwire.Change) (key string, schema string, table string, ok bool, err error) {
	var relationID uint32
	switch c := change.(type) {
	case pgwire.Insert:
		relationID = c.RelationID
	case pgwire.Update:
		relationID = c.RelationID
	case pgwire.Delete:
		relationID = c.RelationID
	default:
		return "", "", "", false, nil
	}
	info, rerr := resolve(cache, relationID)
	if rerr != nil {
		return "", "", "", false, rerr
	}
	return info.Schema + "_" + info.Table, info.Schema, info.Table, true, nil
}
