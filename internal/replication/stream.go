// Package replication drives the physical logical-replication
// protocol against PostgreSQL: slot/publication setup, START_REPLICATION,
// and the standby-status-update keepalive loop. It hands decoded
// pgoutput payloads upstream as (wal_start, wal_end, data) triples and
// never inspects them itself — that is the decoder's job.
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/strahe/waltap/internal/pgwire"
	"github.com/strahe/waltap/pkg/log"
)

const standbyMessageTimeout = 10 * time.Second

// Message is one pgoutput frame read off the replication connection.
// WALStart/WALEnd are informational; Data is the exclusive input to
// the decoder.
type Message struct {
	WALStart pgwire.LSN
	WALEnd   pgwire.LSN
	Data     []byte
}

// Config describes how to attach to an upstream logical replication
// slot.
type Config struct {
	ConnString      string
	SlotName        string
	PublicationName string
	CreateSlot      bool
	// StartLSN resumes from a specific position; the zero value starts
	// from the slot's confirmed position (or the server's current
	// position for a freshly created slot).
	StartLSN pgwire.LSN
}

// Stream is one open logical replication connection.
type Stream struct {
	conn   *pgconn.PgConn
	slot   string
	pub    string
	cursor pglogrepl.LSN
}

// Open connects, optionally creates the replication slot, and issues
// START_REPLICATION. The returned Stream is ready for Run.
func Open(ctx context.Context, cfg Config) (*Stream, error) {
	conn, err := pgconn.Connect(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("replication: connect: %w", err)
	}

	if cfg.CreateSlot {
		if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, cfg.SlotName, "pgoutput",
			pglogrepl.CreateReplicationSlotOptions{Temporary: false}); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("replication: create slot %s: %w", cfg.SlotName, err)
		}
	}

	if _, err := pglogrepl.IdentifySystem(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("replication: identify system: %w", err)
	}

	// A zero start position makes the server resume from the slot's
	// confirmed position.
	startLSN := pglogrepl.LSN(cfg.StartLSN)

	err = pglogrepl.StartReplication(ctx, conn, cfg.SlotName, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"\"proto_version\" '1'",
			fmt.Sprintf("\"publication_names\" '%s'", cfg.PublicationName),
		},
	})
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("replication: start replication on slot %s: %w", cfg.SlotName, err)
	}

	log.Info().
		Str("slot", cfg.SlotName).
		Str("publication", cfg.PublicationName).
		Str("lsn", startLSN.String()).
		Msg("replication stream started")

	return &Stream{conn: conn, slot: cfg.SlotName, pub: cfg.PublicationName, cursor: startLSN}, nil
}

func (s *Stream) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// Run pushes every decoded XLogData payload to out until ctx is
// cancelled or the connection fails. It sends periodic standby status
// updates so the server can reclaim WAL the slot no longer needs.
func (s *Stream) Run(ctx context.Context, out chan<- Message) error {
	nextStandbyDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(nextStandbyDeadline) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
				WALWritePosition: s.cursor,
			}); err != nil {
				return fmt.Errorf("replication: send standby status update: %w", err)
			}
			nextStandbyDeadline = time.Now().Add(standbyMessageTimeout)
		}

		receiveCtx, cancel := context.WithDeadline(ctx, nextStandbyDeadline)
		rawMsg, err := s.conn.ReceiveMessage(receiveCtx)
		cancel()
		if pgconn.Timeout(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("replication: receive message: %w", err)
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			log.Warn().Msg("replication: received unexpected message type")
			continue
		}

		d, err := dispatchCopyData(copyData.Data)
		if err != nil {
			return err
		}

		switch d.outcome {
		case outcomeKeepalive:
			if d.replyRequested {
				nextStandbyDeadline = time.Now()
			}
		case outcomeXLogData:
			select {
			case out <- d.message:
			case <-ctx.Done():
				return ctx.Err()
			}
			s.cursor = d.cursor
		case outcomeUnknown:
			log.Warn().Uint8("byte_id", d.unknownByteID).Msg("replication: unknown CopyData message")
		}
	}
}

type dispatchOutcome int

const (
	outcomeNone dispatchOutcome = iota
	outcomeKeepalive
	outcomeXLogData
	outcomeUnknown
)

// dispatched is the pure result of decoding one CopyData payload: which
// kind of message it was, and whatever state Run needs to act on it.
type dispatched struct {
	outcome        dispatchOutcome
	message        Message
	cursor         pglogrepl.LSN
	replyRequested bool
	unknownByteID  byte
}

// dispatchCopyData decodes one CopyData payload's leading type byte
// and body, without touching the connection or any Stream state. Run
// applies the result; this seam exists so the keepalive/XLogData
// dispatch and cursor-advancement logic can be tested without a live
// replication connection.
func dispatchCopyData(data []byte) (dispatched, error) {
	if len(data) == 0 {
		return dispatched{outcome: outcomeNone}, nil
	}

	switch data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(data[1:])
		if err != nil {
			return dispatched{}, fmt.Errorf("replication: parse keepalive: %w", err)
		}
		return dispatched{outcome: outcomeKeepalive, replyRequested: pkm.ReplyRequested}, nil
	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(data[1:])
		if err != nil {
			return dispatched{}, fmt.Errorf("replication: parse xlog data: %w", err)
		}
		return dispatched{
			outcome: outcomeXLogData,
			message: Message{
				WALStart: pgwire.LSN(xld.WALStart),
				WALEnd:   pgwire.LSN(xld.ServerWALEnd),
				Data:     xld.WALData,
			},
			cursor: xld.WALStart + pglogrepl.LSN(len(xld.WALData)),
		}, nil
	default:
		return dispatched{outcome: outcomeUnknown, unknownByteID: data[0]}, nil
	}
}
