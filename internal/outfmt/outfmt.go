// Package outfmt selects the output format of a command and carries it,
// together with the output query and I/O streams, through the context.
package outfmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/socialinbox/inbox-cli/internal/filter"
)

// Mode represents the output format mode
type Mode int

const (
	// Text is the default human-readable output
	Text Mode = iota
	// JSON outputs structured JSON
	JSON
	// JSONL outputs one JSON document per line. Watch streams every
	// published list as one line.
	JSONL
)

type (
	modeKey    struct{}
	compactKey struct{}
	queryKey   struct{}
	ioKey      struct{}
)

// Parse parses an output mode string
func Parse(s string) (Mode, error) {
	switch s {
	case "text", "":
		return Text, nil
	case "json":
		return JSON, nil
	case "jsonl", "ndjson":
		return JSONL, nil
	default:
		return Text, fmt.Errorf("invalid output format: %q (use 'text', 'json', 'jsonl' or 'ndjson')", s)
	}
}

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case JSON:
		return "json"
	case JSONL:
		return "jsonl"
	default:
		return "text"
	}
}

// WithMode adds the output mode to the context
func WithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, modeKey{}, mode)
}

// ModeFromContext retrieves the output mode from context
func ModeFromContext(ctx context.Context) Mode {
	if mode, ok := ctx.Value(modeKey{}).(Mode); ok {
		return mode
	}
	return Text
}

// IsJSON returns true if the context is set to a JSON mode
func IsJSON(ctx context.Context) bool {
	return ModeFromContext(ctx) != Text
}

// WithCompact adds the compact flag to the context
func WithCompact(ctx context.Context, compact bool) context.Context {
	return context.WithValue(ctx, compactKey{}, compact)
}

// IsCompact returns true if compact output mode is set in the context
func IsCompact(ctx context.Context) bool {
	c, _ := ctx.Value(compactKey{}).(bool)
	return c
}

// WithQuery attaches a compiled output query.
func WithQuery(ctx context.Context, q *filter.Query) context.Context {
	return context.WithValue(ctx, queryKey{}, q)
}

// QueryFromContext returns the output query, or nil for the identity.
func QueryFromContext(ctx context.Context) *filter.Query {
	q, _ := ctx.Value(queryKey{}).(*filter.Query)
	return q
}

// IO holds the input/output streams for commands.
type IO struct {
	Out    io.Writer
	ErrOut io.Writer
	In     io.Reader
}

// DefaultIO returns the standard IO streams.
func DefaultIO() *IO {
	return &IO{Out: os.Stdout, ErrOut: os.Stderr, In: os.Stdin}
}

// WithIO adds IO streams to a context.
func WithIO(ctx context.Context, streams *IO) context.Context {
	return context.WithValue(ctx, ioKey{}, streams)
}

// GetIO retrieves IO streams from context, defaulting to standard streams.
func GetIO(ctx context.Context) *IO {
	if streams, ok := ctx.Value(ioKey{}).(*IO); ok && streams != nil {
		return streams
	}
	return DefaultIO()
}

// Write renders v in the context's mode. Text mode calls text; the JSON
// modes run the context's query over v first.
func Write(ctx context.Context, w io.Writer, v any, text func(io.Writer) error) error {
	mode := ModeFromContext(ctx)
	if mode == Text && text != nil {
		return text(w)
	}
	result, err := QueryFromContext(ctx).RunValue(v)
	if err != nil {
		return err
	}
	if mode == JSONL {
		return WriteJSONMaybeCompact(w, result, true)
	}
	return WriteJSONMaybeCompact(w, result, IsCompact(ctx))
}

// WriteJSON writes a value as pretty-printed JSON
func WriteJSON(w io.Writer, v any) error {
	return WriteJSONMaybeCompact(w, v, false)
}

// WriteJSONMaybeCompact writes JSON, using compact format if compact is true.
func WriteJSONMaybeCompact(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// NewTabWriter returns the column writer used by text tables.
func NewTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
