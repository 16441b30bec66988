package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/socialinbox/inbox-cli/internal/actions"
	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/channel"
	"github.com/socialinbox/inbox-cli/internal/debug"
	"github.com/socialinbox/inbox-cli/internal/dryrun"
	"github.com/socialinbox/inbox-cli/internal/fetch"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
	"github.com/socialinbox/inbox-cli/internal/reconcile"
)

// lookupConversation resolves one argument against the first page of scope.
func lookupConversation(ctx context.Context, client *api.Client, scope api.Scope, arg string) (api.Conversation, error) {
	if scope.IsZero() {
		return api.Conversation{}, fmt.Errorf("--page is required")
	}
	t, err := resolveTargets(ctx, client, scope, []string{arg})
	if err != nil {
		return api.Conversation{}, err
	}
	c, ok := t.known[t.ids[0]]
	if !ok {
		return api.Conversation{}, fmt.Errorf("conversation %s is not on the first page of the scope", arg)
	}
	return c, nil
}

func newThreadCmd() *cobra.Command {
	var (
		pages    []string
		more     int
		follow   bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:     "thread <conversation>",
		Aliases: []string{"messages", "t"},
		Short:   "Show the messages (or comments) of a conversation",
		Example: `  inbox thread "Jane Doe" --page 1234
  inbox thread 65f0c2 -p 1234 --follow`,
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if more < 0 {
				return fmt.Errorf("--more must be >= 0")
			}
			sess, err := newSession()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conv, err := lookupConversation(ctx, sess.client, scopeOf(pages), args[0])
			if err != nil {
				return err
			}
			out := outfmt.GetIO(ctx).Out

			if conv.Type == api.ConversationTypeComment {
				tl := reconcile.CommentTimeline(conv.FeedID, conv.ScopedUserID)
				f := fetch.Comments(sess.client.Comments())
				params := api.ListCommentsParams{PostID: conv.FeedID, ScopedUserID: conv.ScopedUserID}
				if err := loadTimeline(ctx, f, conv.ID, params, tl, more); err != nil {
					return err
				}
				if err := writeComments(ctx, out, tl.Items()); err != nil {
					return err
				}
				if follow {
					return followTimeline(ctx, sess, conv, channel.TopicComment, tl, duration, func(items []api.Comment) error {
						return writeComments(ctx, out, items)
					})
				}
				return nil
			}

			tl := reconcile.MessageTimeline(conv.ScopedUserID)
			f := fetch.Messages(sess.client.Messages())
			params := api.ListMessagesParams{PageID: conv.PageID, ScopedUserID: conv.ScopedUserID}
			if err := loadTimeline(ctx, f, conv.ID, params, tl, more); err != nil {
				return err
			}
			if err := writeMessages(ctx, out, tl.Items()); err != nil {
				return err
			}
			if follow {
				return followTimeline(ctx, sess, conv, channel.TopicMessage, tl, duration, func(items []api.Message) error {
					return writeMessages(ctx, out, items)
				})
			}
			return nil
		}),
	}
	addScopeFlag(cmd, &pages, "Page the conversation belongs to")
	cmd.Flags().IntVar(&more, "more", 0, "Load this many older pages")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing as new items arrive")
	cmd.Flags().DurationVar(&duration, "duration", 0, "With --follow, stop after this long")
	return cmd
}

// loadTimeline loads the newest page and up to more older pages.
func loadTimeline[P any, T reconcile.Entry[T]](ctx context.Context, f *fetch.Fetcher[P, T], key string, params P, tl *reconcile.Timeline[T], more int) error {
	page, err := f.FetchPage(ctx, key, params, api.Cursor{})
	if err != nil {
		return err
	}
	tl.Load(page, reconcile.TimelineInitial)
	for i := 0; i < more; i++ {
		cur := tl.Cursor()
		if cur.AfterCursor == "" {
			break
		}
		page, err := f.FetchPage(ctx, key, params, api.Cursor{AfterCursor: cur.AfterCursor})
		if err != nil {
			return err
		}
		tl.Load(page, reconcile.TimelineOlder)
	}
	return nil
}

// followTimeline feeds live items of topic into tl until interrupted.
func followTimeline[T reconcile.Entry[T]](ctx context.Context, sess *session, conv api.Conversation, topic channel.Topic,
	tl *reconcile.Timeline[T], duration time.Duration, render func([]T) error,
) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	log := debug.Component("thread")
	updates := make(chan struct{}, 1)
	ch := channel.New(channel.Options{
		URL:            sess.cfg.SocketURL,
		Token:          sess.cfg.Token,
		PingInterval:   sess.engine.PingInterval,
		PongTimeout:    sess.engine.PongTimeout,
		ReconnectDelay: sess.engine.ReconnectDelay,
	})
	defer func() { _ = ch.Close() }()
	ch.Subscribe(topic, func(ev channel.Event) {
		var item T
		if err := json.Unmarshal(ev.Data, &item); err != nil {
			log.Debug("dropping malformed item", "topic", ev.Topic, "error", err)
			return
		}
		if tl.Receive(item) {
			select {
			case updates <- struct{}{}:
			default:
			}
		}
	})
	ch.JoinScope(ctx, api.Scope{PageID: conv.PageID})
	if err := ch.Connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			if err := render(tl.Items()); err != nil {
				return err
			}
		}
	}
}

func writeMessages(ctx context.Context, w io.Writer, items []api.Message) error {
	return outfmt.Write(ctx, w, items, func(w io.Writer) error {
		// Oldest first reads like a chat.
		for i := len(items) - 1; i >= 0; i-- {
			m := items[i]
			who := "them"
			if m.SenderID == m.PageID {
				who = "page"
			}
			text := m.Text
			switch {
			case m.Masked():
				text = "(deleted)"
			case text == "" && len(m.Attachments) > 0:
				text = fmt.Sprintf("(%d attachment(s))", len(m.Attachments))
			}
			status := ""
			if m.Loading {
				status = " (sending)"
			}
			_, _ = fmt.Fprintf(w, "%s  %-4s  %s%s\n", formatTime(m.Timestamp), who, oneLine(text), status)
		}
		return nil
	})
}

func writeComments(ctx context.Context, w io.Writer, items []api.Comment) error {
	return outfmt.Write(ctx, w, items, func(w io.Writer) error {
		for i := len(items) - 1; i >= 0; i-- {
			c := items[i]
			text := c.Message
			if c.Masked() {
				text = "(deleted)"
			}
			indent := ""
			if c.ParentID != "" {
				indent = "  "
			}
			_, _ = fmt.Fprintf(w, "%s  %s%s: %s\n", formatTime(c.CreatedAt), indent, c.From.Name, oneLine(text))
		}
		return nil
	})
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func newSendCmd() *cobra.Command {
	var (
		pages        []string
		settingsPath string
	)
	cmd := &cobra.Command{
		Use:   "send <conversation> <text>...",
		Short: "Send a message to the counterpart of a conversation",
		Example: `  inbox send "Jane Doe" "Your order shipped" --page 1234
  inbox send 65f0c2 -p 1234 --settings settings.json "Thanks!"`,
		Args: cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			streams := outfmt.GetIO(ctx)
			who, err := loadIdentity(streams.In, sess.cfg.UserID, settingsPath, false)
			if err != nil {
				return err
			}
			conv, err := lookupConversation(ctx, sess.client, scopeOf(pages), args[0])
			if err != nil {
				return err
			}
			if conv.Type == api.ConversationTypeComment {
				return fmt.Errorf("conversation %s is a comment thread; reply on the post instead", conv.ID)
			}

			text := strings.Join(args[1:], " ")
			if dryrun.IsEnabled(ctx) {
				if err := actions.CheckBlacklist(text, who.settings.BlackListWords); err != nil {
					return err
				}
			}
			preview := &dryrun.Preview{Operation: "send to", Targets: []string{conv.ID}, Details: map[string]any{"text": text}}
			if ok, err := maybeDryRun(ctx, streams.Out, preview); ok || err != nil {
				return err
			}

			tl := reconcile.MessageTimeline(conv.ScopedUserID)
			msg, err := newService(sess, nil).SendMessage(ctx, tl, conv, text, who.settings.BlackListWords)
			if err != nil {
				return err
			}
			if msg == nil {
				msg = &api.Message{PageID: conv.PageID, ScopedUserID: conv.ScopedUserID}
			}
			return outfmt.Write(ctx, streams.Out, msg, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "sent to %s %s\n", conv.From.Name, msg.ID)
				return err
			})
		}),
	}
	addScopeFlag(cmd, &pages, "Page the conversation belongs to")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "Assignment settings JSON file; its blackListWords are enforced")
	return cmd
}
