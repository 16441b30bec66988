package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/socialinbox/inbox-cli/internal/actions"
	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/reconcile"
	"github.com/socialinbox/inbox-cli/internal/resolve"
)

// watchVerbs maps the verbs accepted by --actions-from to the word printed
// on success.
var watchVerbs = map[string]string{
	"pin":     "pinned",
	"unpin":   "unpinned",
	"read":    "read",
	"unread":  "unread",
	"block":   "blocked",
	"unblock": "unblocked",
}

type watchAction struct {
	verb string
	args []string
}

// parseWatchAction reads one "<verb> <conversation>..." line. Blank lines and
// lines starting with # are skipped.
func parseWatchAction(line string) (watchAction, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return watchAction{}, false, nil
	}
	verb := strings.ToLower(fields[0])
	if _, ok := watchVerbs[verb]; !ok {
		return watchAction{}, false, fmt.Errorf("unknown action %q", fields[0])
	}
	if len(fields) < 2 {
		return watchAction{}, false, fmt.Errorf("%s: no conversation given", verb)
	}
	return watchAction{verb: verb, args: fields[1:]}, true, nil
}

// scanLines feeds the lines of r to the returned channel until r ends or ctx
// is done.
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// runWatchActions dispatches each line against the engine's current list.
// The service records every action on the engine, so its effect shows at
// once and masks stale echoes until the server catches up.
func runWatchActions(ctx context.Context, svc *actions.Service, engine *reconcile.Engine, lines <-chan string, w io.Writer) {
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		a, ok, err := parseWatchAction(line)
		if err != nil {
			_, _ = fmt.Fprintf(w, "action: %v\n", err)
			continue
		}
		if !ok {
			continue
		}
		list, err := engine.Snapshot(ctx)
		if err != nil {
			return
		}
		ids, err := resolve.IDs(a.args, resolve.FromConversations(list))
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s: %v\n", a.verb, err)
			continue
		}
		for _, r := range dispatchWatchAction(ctx, svc, a.verb, ids, list) {
			if r.Err != nil {
				_, _ = fmt.Fprintf(w, "%s %s: failed: %v\n", a.verb, r.ID, r.Err)
				continue
			}
			_, _ = fmt.Fprintf(w, "%s %s\n", r.ID, watchVerbs[a.verb])
		}
	}
}

func dispatchWatchAction(ctx context.Context, svc *actions.Service, verb string, ids []string, list []api.Conversation) []actions.Result {
	switch verb {
	case "pin", "unpin":
		return svc.Pin(ctx, ids, verb == "pin")
	case "read", "unread":
		return svc.MarkUnread(ctx, ids, verb == "unread")
	default:
		byID := make(map[string]api.Conversation, len(list))
		for _, c := range list {
			byID[c.ID] = c
		}
		convs := make([]api.Conversation, 0, len(ids))
		for _, id := range ids {
			convs = append(convs, byID[id])
		}
		return svc.Block(ctx, convs, verb == "block")
	}
}
