package convert

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/strahe/waltap/internal/pgwire"
)

// Text renders a Change as a human-oriented multiline block. Not
// intended to round-trip; values are emitted as the raw on-wire
// strings, with no type coercion.
func Text(cache *pgwire.Cache, change pgwire.Change) ([]byte, error) {
	var b strings.Builder
	switch c := change.(type) {
	case pgwire.Begin:
		fmt.Fprintf(&b, "BEGIN [LSN: %s, XID: %d, Time: %d]\n", c.FinalLSN, c.Xid, c.Timestamp)
	case pgwire.Commit:
		fmt.Fprintf(&b, "COMMIT [LSN: %s, EndLSN: %s, Time: %d]\n", c.CommitLSN, c.EndLSN, c.Timestamp)
	case pgwire.Relation:
		fmt.Fprintf(&b, "RELATION %s.%s (ID: %d)\n", c.Schema, c.Table, c.RelationID)
		for _, col := range c.Columns {
			fmt.Fprintf(&b, "  %s: oid=%d%s\n", col.Name, col.TypeOID, pkSuffix(col))
		}
	case pgwire.Insert:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "INSERT into %s.%s (ID: %d)\n", info.Schema, info.Table, c.RelationID)
		writeTupleLines(&b, info.Columns, c.New)
	case pgwire.Update:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "UPDATE on %s.%s (ID: %d)\n", info.Schema, info.Table, c.RelationID)
		if c.Old != nil {
			b.WriteString("  old:\n")
			writeTupleLines(&b, info.Columns, *c.Old)
		}
		if c.Key != nil {
			b.WriteString("  key:\n")
			writeTupleLines(&b, info.Columns, *c.Key)
		}
		b.WriteString("  new:\n")
		writeTupleLines(&b, info.Columns, c.New)
	case pgwire.Delete:
		info, err := resolve(cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "DELETE from %s.%s (ID: %d)\n", info.Schema, info.Table, c.RelationID)
		if c.Old != nil {
			writeTupleLines(&b, info.Columns, *c.Old)
		} else if c.Key != nil {
			writeTupleLines(&b, info.Columns, *c.Key)
		}
	case pgwire.Truncate:
		fmt.Fprintf(&b, "TRUNCATE %v (options: %d)\n", c.RelationIDs, c.Options)
	case pgwire.Type:
		fmt.Fprintf(&b, "TYPE %s.%s (oid: %d)\n", c.Schema, c.Name, c.TypeOID)
	default:
		return nil, fmt.Errorf("convert: text: unhandled change kind %s", change.Kind())
	}
	return []byte(b.String()), nil
}

func pkSuffix(col pgwire.ColumnDescriptor) string {
	if col.PartOfReplicaIdentity() {
		return " (key)"
	}
	return ""
}

// writeTupleLines renders a tuple as a two-column key/value table,
// indented under the preceding header line.
func writeTupleLines(b *strings.Builder, cols []pgwire.ColumnDescriptor, tuple pgwire.Tuple) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.AppendHeader(table.Row{"column", "value"})

	for i, v := range tuple {
		name := fmt.Sprintf("col%d", i)
		if i < len(cols) {
			name = cols[i].Name
		}
		switch v.Kind {
		case pgwire.ValueNull:
			t.AppendRow(table.Row{name, "NULL"})
		case pgwire.ValueUnchanged:
			t.AppendRow(table.Row{name, "<unchanged toast>"})
		case pgwire.ValueText:
			t.AppendRow(table.Row{name, string(v.Text)})
		}
	}

	for _, line := range strings.Split(t.Render(), "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}
