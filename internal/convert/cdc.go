package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/strahe/waltap/internal/pgwire"
)

// CDC renders the Debezium-style change-data-capture envelope. It
// drops Begin/Commit/Relation/Truncate/Type by returning a nil slice
// and nil error.
type CDC struct {
	Cache      *pgwire.Cache
	ToolName   string
	ToolVersion string
	// DB is the literal source.db value. The original tool hardcodes
	// "postgres"; this is kept as a placeholder per the spec's open
	// question rather than resolved to the live database name.
	DB string
}

func NewCDC(cache *pgwire.Cache, toolName, toolVersion string) *CDC {
	return &CDC{Cache: cache, ToolName: toolName, ToolVersion: toolVersion, DB: "postgres"}
}

type cdcSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	LSN       string `json:"lsn"`
}

type cdcEnvelope struct {
	Before      map[string]any `json:"before"`
	After       map[string]any `json:"after"`
	Source      cdcSource      `json:"source"`
	Op          string         `json:"op"`
	TsMs        int64          `json:"ts_ms"`
	Transaction any            `json:"transaction"`
}

// Render returns nil, nil for any non-data change.
func (r *CDC) Render(change pgwire.Change) ([]byte, error) {
	var (
		before, after map[string]any
		op            string
		relationID    uint32
	)

	switch c := change.(type) {
	case pgwire.Insert:
		info, err := resolve(r.Cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		after = typedObject(info.Columns, c.New)
		op = "c"
		relationID = c.RelationID
		return r.envelope(info, before, after, op, relationID)
	case pgwire.Update:
		info, err := resolve(r.Cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		after = typedObject(info.Columns, c.New)
		if c.Old != nil {
			before = typedObject(info.Columns, *c.Old)
		}
		op = "u"
		relationID = c.RelationID
		return r.envelope(info, before, after, op, relationID)
	case pgwire.Delete:
		info, err := resolve(r.Cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		if c.Old != nil {
			before = typedObject(info.Columns, *c.Old)
		} else if c.Key != nil {
			before = typedObject(info.Columns, *c.Key)
		}
		op = "d"
		relationID = c.RelationID
		return r.envelope(info, before, after, op, relationID)
	default:
		return nil, nil
	}
}

func (r *CDC) envelope(info pgwire.RelationInfo, before, after map[string]any, op string, relationID uint32) ([]byte, error) {
	nowMs := time.Now().UnixMilli()
	env := cdcEnvelope{
		Before: before,
		After:  after,
		Source: cdcSource{
			Version:   r.ToolName + "-" + r.ToolVersion,
			Connector: "postgresql",
			Name:      r.ToolName,
			TsMs:      nowMs,
			DB:        r.DB,
			Schema:    info.Schema,
			Table:     info.Table,
			LSN:       strconv.FormatUint(uint64(relationID), 10),
		},
		Op:          op,
		TsMs:        nowMs,
		Transaction: nil,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("convert: marshal cdc envelope: %w", err)
	}
	return append(out, '\n'), nil
}
