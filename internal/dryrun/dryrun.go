// Package dryrun previews conversation actions without sending them.
package dryrun

import (
	"context"
	"fmt"
	"io"
	"sort"
)

type contextKey struct{}

// WithDryRun returns a context with dry-run mode enabled or disabled.
func WithDryRun(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, contextKey{}, enabled)
}

// IsEnabled reports whether dry-run mode is enabled.
func IsEnabled(ctx context.Context) bool {
	v, _ := ctx.Value(contextKey{}).(bool)
	return v
}

// Preview describes an action that would have been applied.
type Preview struct {
	Operation string         `json:"operation"`
	Targets   []string       `json:"targets"`
	Details   map[string]any `json:"details,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	DryRun    bool           `json:"dry_run"`
}

// Write prints the preview as text. Details are sorted by key.
func (p *Preview) Write(w io.Writer) {
	noun := "conversations"
	if len(p.Targets) == 1 {
		noun = "conversation"
	}
	_, _ = fmt.Fprintf(w, "[dry-run] would %s %d %s\n", p.Operation, len(p.Targets), noun)
	for _, id := range p.Targets {
		_, _ = fmt.Fprintf(w, "  %s\n", id)
	}

	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s: %v\n", k, p.Details[k])
	}

	for _, warning := range p.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	_, _ = fmt.Fprintln(w, "No changes made")
}
