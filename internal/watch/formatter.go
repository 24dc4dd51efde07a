package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/events"
	"github.com/dyluth/retro/pkg/store"
)

// OutputFormat selects how streamed events are written.
type OutputFormat string

const (
	// OutputFormatDefault writes one readable line per change
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes one JSON object per event
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format name from the command line.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSON:
		return f, nil
	case "":
		return OutputFormatDefault, nil
	}
	return "", fmt.Errorf("invalid output format '%s': must be 'default' or 'json'", s)
}

// now stamps default output lines. Tests pin it.
var now = time.Now

type eventFormatter interface {
	Format(ev store.Event) error
}

func newFormatter(format OutputFormat, w io.Writer) (eventFormatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{writer: w}, nil
	}
	return nil, fmt.Errorf("unknown output format: %s", format)
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) line(format string, args ...any) error {
	ts := now().Format("15:04:05")
	_, err := fmt.Fprintf(f.writer, "[%s] "+format+"\n", append([]any{ts}, args...)...)
	return err
}

func (f *defaultFormatter) Format(ev store.Event) error {
	switch m := ev.Message.(type) {
	case events.NodeUpdateMessage:
		for _, n := range m.Nodes {
			if err := f.FormatNode(n); err != nil {
				return err
			}
		}
		return nil
	case events.NodeDeleteMessage:
		return f.line("🗑️  Deleted: %s", strings.Join(m.NodeIDs, ", "))
	case events.NodeLockMessage:
		return f.line("🔒 Locked: %s", strings.Join(m.NodeIDs, ", "))
	case events.NodeUnlockMessage:
		return f.line("🔓 Unlocked: %s", strings.Join(m.NodeIDs, ", "))
	case events.BoardDeleteMessage:
		return f.line("💥 Board deleted: id=%s", m.BoardID)
	}
	return f.line("❓ Unknown event: type=%s board=%s", ev.Message.Type(), ev.BoardID)
}

// FormatNode writes one updated node. A node at version 1 of its own
// history is reported as created.
func (f *defaultFormatter) FormatNode(n *board.Node) error {
	verb := "✏️  Updated"
	if n.Version == n.OrigVersion {
		verb = "✨ Created"
	}
	return f.line("%s %s: id=%s v%d by=%s %s", verb, nodeKind(n.Type), n.ID, n.Version, creator(n.Creator), summarise(n.Content))
}

func nodeKind(t board.NodeType) string {
	switch t {
	case board.TypeBoard:
		return "board"
	case board.TypeColumnHeader:
		return "column"
	case board.TypeContent:
		return "card"
	}
	return string(t)
}

func creator(c string) string {
	if c == "" {
		return "-"
	}
	return c
}

func summarise(c board.Content) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(c[k])
		if len(v) > 40 {
			v = v[:37] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	return strings.Join(parts, " ")
}

type jsonFormatter struct {
	writer io.Writer
}

// jsonEvent is the wire envelope plus the board it belongs to.
type jsonEvent struct {
	BoardID string          `json:"board_id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func (f *jsonFormatter) Format(ev store.Event) error {
	payload, err := events.Encode(ev.Message)
	if err != nil {
		return err
	}
	var out jsonEvent
	if err := json.Unmarshal(payload, &out); err != nil {
		return err
	}
	out.BoardID = ev.BoardID

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", data)
	return err
}
