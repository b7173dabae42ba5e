package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/strahe/waltap/internal/convert"
	"github.com/strahe/waltap/internal/pgwire"
	"github.com/strahe/waltap/pkg/log"
)

// Format selects which of the four output shapes a StdoutSink renders
// a change into. The HTTP and bus sinks take no Format: they always
// send the insert-delete and compact raw encodings respectively.
type Format string

const (
	FormatJSON       Format = "json"
	FormatJSONPretty Format = "json-pretty"
	FormatText       Format = "text"
	FormatDebezium   Format = "debezium"
	FormatFeldera    Format = "feldera"
)

// StdoutSink writes rendered changes to an owned writer, flushing
// after every event boundary. It never fails for reasons other than
// I/O errors on the underlying stream.
type StdoutSink struct {
	w            io.Writer
	format       Format
	cache        *pgwire.Cache
	cdc          *convert.CDC
	colorEnabled bool
}

// NewStdoutSink builds a stdout sink for one of the five CLI format
// tokens. cache is shared with the decoder and every other sink.
func NewStdoutSink(format Format, cache *pgwire.Cache, toolName, toolVersion string, colorEnabled bool) *StdoutSink {
	return &StdoutSink{
		w:            os.Stdout,
		format:       format,
		cache:        cache,
		cdc:          convert.NewCDC(cache, toolName, toolVersion),
		colorEnabled: colorEnabled && color.NoColor == false,
	}
}

func (s *StdoutSink) Type() string { return "stdout" }

func (s *StdoutSink) Close() error { return nil }

func (s *StdoutSink) WriteChange(ctx context.Context, change pgwire.Change) error {
	var payload []byte
	var err error

	switch s.format {
	case FormatJSON:
		payload, err = convert.Raw(s.cache, change, false)
	case FormatJSONPretty:
		payload, err = convert.Raw(s.cache, change, true)
	case FormatText:
		payload, err = convert.Text(s.cache, change)
		if err == nil && s.colorEnabled {
			payload = colorizeText(change, payload)
		}
	case FormatDebezium:
		payload, err = s.cdc.Render(change)
	case FormatFeldera:
		var events []convert.Event
		events, err = convert.InsertDelete(s.cache, change)
		if err == nil {
			payload = renderFelderaLines(events)
		}
	default:
		return fmt.Errorf("sink: stdout: unknown format %q", s.format)
	}
	if err != nil {
		return fmt.Errorf("sink: stdout: render: %w", err)
	}
	if len(payload) == 0 {
		return nil // dropped event
	}

	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("sink: stdout: write: %w", err)
	}
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	} else if f, ok := s.w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	return nil
}

func renderFelderaLines(events []convert.Event) []byte {
	var out []byte
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Msg("stdout sink: marshal insert-delete event")
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

func colorizeText(change pgwire.Change, payload []byte) []byte {
	var c *color.Color
	switch change.Kind() {
	case pgwire.KindInsert:
		c = color.New(color.FgGreen, color.Bold)
	case pgwire.KindUpdate:
		c = color.New(color.FgYellow, color.Bold)
	case pgwire.KindDelete:
		c = color.New(color.FgRed, color.Bold)
	default:
		return payload
	}
	return []byte(c.Sprint(string(payload)))
}
