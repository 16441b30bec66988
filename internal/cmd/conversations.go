package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/socialinbox/inbox-cli/internal/actions"
	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/dryrun"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
	"github.com/socialinbox/inbox-cli/internal/resolve"
)

// partialError reports a bulk action where some ids failed.
type partialError struct {
	failed, total int
	err           error
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%d of %d conversations failed:\n%v", e.failed, e.total, e.err)
}

func (e *partialError) Unwrap() error { return e.err }

// targets are the resolved conversation arguments.
type targets struct {
	ids   []string
	known map[string]api.Conversation
}

// resolveTargets maps arguments to conversation ids. With a scope, the first
// page of the scope is loaded and arguments may be counterpart names;
// without one, arguments must be ids.
func resolveTargets(ctx context.Context, client *api.Client, scope api.Scope, args []string) (targets, error) {
	t := targets{known: map[string]api.Conversation{}}
	if scope.IsZero() {
		t.ids = args
		return t, nil
	}
	page, err := client.Conversations().List(ctx, api.ListConversationsParams{Scope: scope})
	if err != nil {
		return t, err
	}
	for _, c := range page.Data {
		t.known[c.ID] = c
	}
	if t.ids, err = resolve.IDs(args, resolve.FromConversations(page.Data)); err != nil {
		return t, err
	}
	return t, nil
}

// newService builds the action dispatcher. rec is the running engine when
// there is one; one-shot commands pass nil.
func newService(sess *session, rec actions.IntentRecorder) *actions.Service {
	return actions.New(actions.Options{
		Conversations: sess.client.Conversations(),
		Messages:      sess.client.Messages(),
		Recorder:      rec,
		Concurrency:   int64(sess.engine.Concurrency),
	})
}

// reportResults prints one line per id and turns failures into a
// partialError.
func reportResults(ctx context.Context, w io.Writer, verb string, results []actions.Result) error {
	type row struct {
		ID    string `json:"id"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	rows := make([]row, 0, len(results))
	for _, r := range results {
		out := row{ID: r.ID, OK: r.Err == nil}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		rows = append(rows, out)
	}
	err := outfmt.Write(ctx, w, rows, func(w io.Writer) error {
		for _, r := range rows {
			if r.OK {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", r.ID, verb)
			} else {
				_, _ = fmt.Fprintf(w, "%s\tfailed: %s\n", r.ID, r.Error)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if _, failed := actions.Counts(results); failed > 0 {
		return &partialError{failed: failed, total: len(results), err: actions.Err(results)}
	}
	return nil
}

// maybeDryRun writes preview and reports true when dry-run mode is on.
func maybeDryRun(ctx context.Context, w io.Writer, preview *dryrun.Preview) (bool, error) {
	if !dryrun.IsEnabled(ctx) {
		return false, nil
	}
	preview.DryRun = true
	return true, outfmt.Write(ctx, w, preview, func(w io.Writer) error {
		preview.Write(w)
		return nil
	})
}

// bulkCommand builds a command that applies op to the resolved ids. When
// set, details validates the flags and describes the action for --dry-run.
func bulkCommand(use string, aliases []string, short, verb string, requireScope bool,
	details func() (map[string]any, error),
	op func(ctx context.Context, svc *actions.Service, t targets) ([]actions.Result, error),
) *cobra.Command {
	var pages []string
	cmd := &cobra.Command{
		Use:     use + " <conversation>...",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.MinimumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			scope := scopeOf(pages)
			if requireScope && scope.IsZero() {
				return fmt.Errorf("--page is required")
			}
			var d map[string]any
			if details != nil {
				var err error
				if d, err = details(); err != nil {
					return err
				}
			}
			sess, err := newSession()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := outfmt.GetIO(ctx).Out
			t, err := resolveTargets(ctx, sess.client, scope, args)
			if err != nil {
				return err
			}
			if ok, err := maybeDryRun(ctx, out, &dryrun.Preview{Operation: use, Targets: t.ids, Details: d}); ok || err != nil {
				return err
			}
			results, err := op(ctx, newService(sess, nil), t)
			if err != nil {
				return err
			}
			return reportResults(ctx, out, verb, results)
		}),
	}
	addScopeFlag(cmd, &pages, "Resolve counterpart names against this page's conversations")
	return cmd
}

func newPinCmd(pin bool) *cobra.Command {
	use, verb := "pin", "pinned"
	if !pin {
		use, verb = "unpin", "unpinned"
	}
	return bulkCommand(use, nil, strings.ToUpper(use[:1])+use[1:]+" conversations", verb, false, nil,
		func(ctx context.Context, svc *actions.Service, t targets) ([]actions.Result, error) {
			return svc.Pin(ctx, t.ids, pin), nil
		})
}

func newReadCmd(unread bool) *cobra.Command {
	use, short, verb := "read", "Mark conversations as read", "read"
	if unread {
		use, short, verb = "unread", "Mark conversations as unread", "unread"
	}
	return bulkCommand(use, nil, short, verb, false, nil,
		func(ctx context.Context, svc *actions.Service, t targets) ([]actions.Result, error) {
			return svc.MarkUnread(ctx, t.ids, unread), nil
		})
}

func newBlockCmd(block bool) *cobra.Command {
	use, short, verb := "block", "Block the counterparts of conversations", "blocked"
	if !block {
		use, short, verb = "unblock", "Unblock the counterparts of conversations", "unblocked"
	}
	return bulkCommand(use, nil, short, verb, true, nil,
		func(ctx context.Context, svc *actions.Service, t targets) ([]actions.Result, error) {
			convs := make([]api.Conversation, 0, len(t.ids))
			for _, id := range t.ids {
				c, ok := t.known[id]
				if !ok {
					return nil, fmt.Errorf("conversation %s is not on the first page of the scope", id)
				}
				convs = append(convs, c)
			}
			return svc.Block(ctx, convs, block), nil
		})
}

func newAssignCmd() *cobra.Command {
	var group string
	var users []string
	var unset bool
	details := func() (map[string]any, error) {
		if group == "" && len(users) == 0 && !unset {
			return nil, fmt.Errorf("--group, --user or --clear is required")
		}
		if unset && group != "" {
			return nil, fmt.Errorf("--group and --clear cannot be used together")
		}
		d := map[string]any{}
		if group != "" {
			d["group"] = group
		}
		if unset {
			d["group"] = "(cleared)"
		}
		if len(users) > 0 {
			d["users"] = users
		}
		return d, nil
	}
	cmd := bulkCommand("assign", []string{"as"}, "Assign conversations to a team group and/or users", "assigned", false, details,
		func(ctx context.Context, svc *actions.Service, t targets) ([]actions.Result, error) {
			var g *string
			if group != "" || unset {
				g = &group
			}
			return svc.Assign(ctx, t.ids, g, users), nil
		})
	cmd.Flags().StringVar(&group, "group", "", "Team group id")
	cmd.Flags().StringSliceVar(&users, "user", nil, "User id (repeatable)")
	cmd.Flags().BoolVar(&unset, "clear", false, "Remove the team group assignment")
	return cmd
}
