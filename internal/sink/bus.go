package sink

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/strahe/waltap/internal/convert"
	"github.com/strahe/waltap/internal/pgwire"
)

const (
	busStreamMaxMsgs  = 1_000_000
	busStreamMaxBytes = 1 << 30 // 1 GiB
)

// BusSink publishes the raw-JSON rendering of each change to a
// subject derived from (schema, table, op), on a JetStream stream it
// idempotently ensures exists.
type BusSink struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subjectPrefix string
	cache         *pgwire.Cache
}

// NewBusSink connects to serverURL and ensures streamName exists with
// a subject filter covering every subject this sink will ever
// publish under subjectPrefix. Stream creation is safe to call even
// when the stream already exists.
func NewBusSink(serverURL, streamName, subjectPrefix string, cache *pgwire.Cache) (*BusSink, error) {
	conn, err := nats.Connect(serverURL, nats.Name("waltap"))
	if err != nil {
		return nil, fmt.Errorf("sink: bus: connect %s: %w", serverURL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sink: bus: jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".*.*.*"},
		MaxMsgs:   busStreamMaxMsgs,
		MaxBytes:  busStreamMaxBytes,
		Retention: nats.LimitsPolicy,
		Storage:   nats.MemoryStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("sink: bus: ensure stream %s: %w", streamName, err)
	}

	return &BusSink{conn: conn, js: js, subjectPrefix: subjectPrefix, cache: cache}, nil
}

func (s *BusSink) Type() string { return "nats" }

func (s *BusSink) Close() error {
	s.conn.Close()
	return nil
}

func (s *BusSink) WriteChange(ctx context.Context, change pgwire.Change) error {
	subjects, err := s.subjects(change)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		return nil // dropped, e.g. Type frames
	}

	payload, err := convert.Raw(s.cache, change, false)
	if err != nil {
		return fmt.Errorf("sink: bus: render: %w", err)
	}
	// strip the trailing newline Raw adds for line-oriented sinks.
	if n := len(payload); n > 0 && payload[n-1] == '\n' {
		payload = payload[:n-1]
	}

	for _, subject := range subjects {
		if _, err := s.js.Publish(subject, payload); err != nil {
			return fmt.Errorf("sink: bus: publish %s: %w", subject, err)
		}
	}
	return nil
}

// subjects returns the subject(s) a change publishes to, per the
// subject derivation table. Truncate publishes once per affected
// relation. Type frames drop silently.
func (s *BusSink) subjects(change pgwire.Change) ([]string, error) {
	switch c := change.(type) {
	case pgwire.Begin:
		return []string{s.subjectPrefix + ".transactions.begin.event"}, nil
	case pgwire.Commit:
		return []string{s.subjectPrefix + ".transactions.commit.event"}, nil
	case pgwire.Relation:
		return []string{fmt.Sprintf("%s.%s.%s.relation", s.subjectPrefix, c.Schema, c.Table)}, nil
	case pgwire.Insert:
		info, err := resolveRelation(s.cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		return []string{Subject(s.subjectPrefix, info.Schema, info.Table, "insert")}, nil
	case pgwire.Update:
		info, err := resolveRelation(s.cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		return []string{Subject(s.subjectPrefix, info.Schema, info.Table, "update")}, nil
	case pgwire.Delete:
		info, err := resolveRelation(s.cache, c.RelationID)
		if err != nil {
			return nil, err
		}
		return []string{Subject(s.subjectPrefix, info.Schema, info.Table, "delete")}, nil
	case pgwire.Truncate:
		subjects := make([]string, 0, len(c.RelationIDs))
		for _, relID := range c.RelationIDs {
			info, err := resolveRelation(s.cache, relID)
			if err != nil {
				return nil, err
			}
			subjects = append(subjects, Subject(s.subjectPrefix, info.Schema, info.Table, "truncate"))
		}
		return subjects, nil
	case pgwire.Type:
		return nil, nil
	default:
		return nil, fmt.Errorf("sink: bus: unhandled change kind %s", change.Kind())
	}
}

// Subject is the total function of (schema, table, op) that derives
// an Insert/Update/Delete/Truncate subject string.
func Subject(prefix, schema, table, op string) string {
	return fmt.Sprintf("%s.%s.%s.%s", prefix, schema, table, op)
}

func resolveRelation(cache *pgwire.Cache, relationID uint32) (pgwire.RelationInfo, error) {
	info, ok := cache.Get(relationID)
	if !ok {
		return pgwire.RelationInfo{}, fmt.Errorf("sink: bus: %w: relation_id %d", pgwire.ErrUnknownRelation, relationID)
	}
	return info, nil
}
