package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/cache"
	"github.com/socialinbox/inbox-cli/internal/channel"
	"github.com/socialinbox/inbox-cli/internal/debug"
	"github.com/socialinbox/inbox-cli/internal/fetch"
	"github.com/socialinbox/inbox-cli/internal/metrics"
	"github.com/socialinbox/inbox-cli/internal/optimistic"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
	"github.com/socialinbox/inbox-cli/internal/period"
	"github.com/socialinbox/inbox-cli/internal/reconcile"
	"github.com/socialinbox/inbox-cli/internal/visibility"
)

// inboxOptions are the flags shared by watch and list.
type inboxOptions struct {
	pages        []string
	more         int
	unread       bool
	inbox        bool
	comment      bool
	phone        bool
	noPhone      bool
	unreplied    bool
	tags         []string
	tagsAny      bool
	tagsExclude  bool
	name         string
	since        string
	until        string
	timeField    string
	listPages    []string
	sortByUnread bool
	settings     string
	admin        bool
	redisURL     string
	noCache      bool

	// watch only
	selectID    string
	metricsAddr string
	duration    time.Duration
	actionsFrom string
}

func (o *inboxOptions) bind(cmd *cobra.Command) {
	addScopeFlag(cmd, &o.pages, "Page id to follow (repeat or comma-separate for a page group)")
	fs := cmd.Flags()
	fs.IntVar(&o.more, "more", 0, "Load this many additional pages after the first")
	fs.BoolVar(&o.unread, "unread", false, "Only unread conversations")
	fs.BoolVar(&o.inbox, "inbox", false, "Only direct inbox conversations")
	fs.BoolVar(&o.comment, "comment", false, "Only comment conversations")
	fs.BoolVar(&o.phone, "phone", false, "Only conversations with a detected phone number")
	fs.BoolVar(&o.noPhone, "no-phone", false, "Only conversations without a phone number")
	fs.BoolVar(&o.unreplied, "unreplied", false, "Only conversations whose last message is not from the page")
	fs.StringSliceVar(&o.tags, "tag", nil, "Tag id filter (repeatable)")
	fs.BoolVar(&o.tagsAny, "tags-any", false, "Match any --tag instead of all")
	fs.BoolVar(&o.tagsExclude, "tags-exclude", false, "Invert the --tag match")
	fs.StringVar(&o.name, "name", "", "Counterpart name or phone digits")
	fs.StringVar(&o.since, "since", "", "Period start: RFC3339, YYYY-MM-DD, today, yesterday, a weekday or an offset like 2h ago")
	fs.StringVar(&o.until, "until", "", "Period end, same forms as --since (default now)")
	fs.StringVar(&o.timeField, "time-field", "updated", "Timestamp tested by --since/--until: created|updated")
	fs.StringSliceVar(&o.listPages, "only-pages", nil, "Restrict a page group to these page ids")
	fs.BoolVar(&o.sortByUnread, "sort-unread", false, "Ask the server to rank unread conversations first")
	addIdentityFlags(cmd, &o.settings, &o.admin)
	fs.StringVar(&o.redisURL, "redis-url", os.Getenv("INBOX_REDIS_URL"), "Keep the last-known list in Redis instead of the file cache (env INBOX_REDIS_URL)")
	fs.BoolVar(&o.noCache, "no-cache", false, "Do not seed from or save the last-known list")

	flagAlias(fs, "unreplied", "un-replied")
	flagAlias(fs, "tag", "tags")
}

// criteria converts the flags into a filter snapshot.
func (o *inboxOptions) criteria() (visibility.Criteria, error) {
	var c visibility.Criteria
	add := func(on bool, f visibility.Facet) {
		if on {
			c.Facets = append(c.Facets, f)
		}
	}
	if o.phone && o.noPhone {
		return c, fmt.Errorf("--phone and --no-phone cannot be used together")
	}
	if o.inbox && o.comment {
		return c, fmt.Errorf("--inbox and --comment cannot be used together")
	}
	add(o.unread, visibility.FacetUnread)
	add(o.inbox, visibility.FacetInbox)
	add(o.comment, visibility.FacetComment)
	add(o.phone, visibility.FacetPhone)
	add(o.noPhone, visibility.FacetNoPhone)
	add(o.unreplied, visibility.FacetUnreplied)

	if len(o.tags) > 0 {
		c.Facets = append(c.Facets, visibility.FacetTags)
		c.Tags = o.tags
		c.TagsType = visibility.TagsAll
		if o.tagsAny {
			c.TagsType = visibility.TagsAny
		}
		c.TagsMode = visibility.TagsContains
		if o.tagsExclude {
			c.TagsMode = visibility.TagsNotContains
		}
	}

	since, until, err := period.Range(o.since, o.until, time.Now())
	if err != nil {
		return c, err
	}
	if !since.IsZero() {
		c.Facets = append(c.Facets, visibility.FacetTimePeriod)
		c.Since, c.Until = since, until
		switch o.timeField {
		case "created":
			c.TimePeriod = visibility.TimeCreated
		case "updated", "":
			c.TimePeriod = visibility.TimeUpdated
		default:
			return c, fmt.Errorf("--time-field must be created or updated")
		}
	}

	if len(o.listPages) > 0 {
		c.Facets = append(c.Facets, visibility.FacetPages)
		c.PageIDs = o.listPages
	}
	c.Name = strings.TrimSpace(o.name)
	c.SortByUnread = o.sortByUnread
	return c, nil
}

// snapshotter picks the last-known-list store. It returns nil when caching
// is off.
func (o *inboxOptions) snapshotter(baseURL string) (cache.Snapshotter, func(), error) {
	if o.noCache {
		return nil, func() {}, nil
	}
	if o.redisURL != "" {
		store, err := cache.NewRedisStoreFromURL(o.redisURL, baseURL, 0)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	dir, err := cache.DefaultDir()
	if err != nil {
		return nil, func() {}, nil
	}
	return cache.NewFileStore(dir, baseURL), func() {}, nil
}

func newWatchCmd() *cobra.Command {
	var opts inboxOptions
	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w", "follow"},
		Short:   "Follow the live conversation list of a page",
		Long: `Load the conversation list of a page (or page group) and keep it in
sync with the realtime channel. Every change prints the full list: a table
in text mode, one JSON document per change with --output jsonl.`,
		Example: `  inbox watch --page 1234
  inbox watch -p 1234,5678 --unread -o jsonl
  inbox watch -p 1234 --tag vip --metrics-addr :9090
  echo "pin 5678_9012" | inbox watch -p 1234 --actions-from -`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return runInbox(cmd, &opts, true)
		}),
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.selectID, "select", "", "Open this conversation: it is marked seen and kept read while new messages arrive")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (default: until interrupted)")
	cmd.Flags().StringVar(&opts.actionsFrom, "actions-from", "", "Read actions such as \"pin <id>\" or \"read <id>\" from this file, or - for stdin, and apply them optimistically")
	return cmd
}

func newListCmd() *cobra.Command {
	var opts inboxOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Print the conversation list of a page once",
		Example: `  inbox list --page 1234
  inbox list -p 1234 --more 2 -q '.[] | select(.unread) | ._id'`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return runInbox(cmd, &opts, false)
		}),
	}
	opts.bind(cmd)
	return cmd
}

// runInbox drives one engine session. With live set it follows the channel
// until interrupted; otherwise it prints the loaded list and returns.
func runInbox(cmd *cobra.Command, opts *inboxOptions, live bool) error {
	scope := scopeOf(opts.pages)
	if scope.IsZero() {
		return fmt.Errorf("--page is required")
	}
	if opts.more < 0 {
		return fmt.Errorf("--more must be >= 0")
	}
	criteria, err := opts.criteria()
	if err != nil {
		return err
	}
	if opts.actionsFrom == "-" && opts.settings == "-" {
		return fmt.Errorf("--settings and --actions-from cannot both read stdin")
	}
	sess, err := newSession()
	if err != nil {
		return err
	}
	streams := outfmt.GetIO(cmd.Context())
	var actionsIn io.Reader
	switch opts.actionsFrom {
	case "":
	case "-":
		actionsIn = streams.In
	default:
		f, err := os.Open(opts.actionsFrom)
		if err != nil {
			return fmt.Errorf("failed to open --actions-from: %w", err)
		}
		defer func() { _ = f.Close() }()
		actionsIn = f
	}
	who, err := loadIdentity(streams.In, sess.cfg.UserID, opts.settings, opts.admin)
	if err != nil {
		return err
	}
	snap, closeSnap, err := opts.snapshotter(sess.cfg.APIURL)
	if err != nil {
		return err
	}
	defer closeSnap()

	ctx := cmd.Context()
	if live {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if opts.duration > 0 {
			ctx, stop = context.WithTimeout(ctx, opts.duration)
			defer stop()
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := debug.Component("watch")
	m := metrics.New()
	conversations := sess.client.Conversations()
	engine := reconcile.New(reconcile.Options{
		Pager:    fetch.Conversations(conversations),
		Seen:     conversations,
		Tracker:  optimistic.NewTracker(sess.engine.IntentTTL),
		Metrics:  m,
		Scope:    scope,
		Criteria: criteria,
		Settings: who.settings,
		User:     who.user,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	seeded := false
	if snap != nil {
		if list, ok, err := snap.Load(ctx, scope); err != nil {
			log.Warn("last-known list unavailable", "error", err)
		} else if ok && len(list) > 0 {
			seeded = engine.Seed(ctx, list) == nil
		}
	}

	var ch *channel.Channel
	if live {
		ch = channel.New(channel.Options{
			URL:            sess.cfg.SocketURL,
			Token:          sess.cfg.Token,
			PingInterval:   sess.engine.PingInterval,
			PongTimeout:    sess.engine.PongTimeout,
			ReconnectDelay: sess.engine.ReconnectDelay,
		})
		defer func() { _ = ch.Close() }()
		ch.OnStateChange(func(s channel.State) {
			m.SetConnected(s == channel.StateConnected)
			_, _ = fmt.Fprintf(streams.ErrOut, "channel %s\n", s)
		})
		if err := engine.Attach(ctx, ch); err != nil {
			return err
		}
		if err := ch.Connect(ctx); err != nil {
			return err
		}
	}

	if err := engine.LoadPage(ctx, reconcile.LoadInitial); err != nil {
		if !seeded {
			return err
		}
		log.Warn("initial load failed, showing last-known list", "error", err)
	}
	for i := 0; i < opts.more; i++ {
		cur, err := engine.Cursor(ctx)
		if err != nil {
			return err
		}
		if cur.AfterCursor == "" {
			break
		}
		if err := engine.LoadPage(ctx, reconcile.LoadMore); err != nil {
			return err
		}
	}

	list, err := engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := snap.Save(ctx, scope, list); err != nil {
			log.Warn("could not save last-known list", "error", err)
		}
	}

	if !live {
		return writeConversations(ctx, streams.Out, list)
	}

	if opts.selectID != "" {
		if err := engine.Select(ctx, opts.selectID); err != nil {
			return err
		}
	}
	if opts.metricsAddr != "" {
		serveMetrics(ctx, g, opts.metricsAddr, m.Handler())
	}

	err = engine.Subscribe(ctx, func(list []api.Conversation) {
		if err := writeConversations(ctx, streams.Out, list); err != nil {
			log.Warn("render failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	if actionsIn != nil {
		svc := newService(sess, engine)
		lines := scanLines(gctx, actionsIn)
		g.Go(func() error {
			runWatchActions(gctx, svc, engine, lines, streams.ErrOut)
			return nil
		})
	}

	<-ctx.Done()
	if totals, err := m.EventTotals(); err == nil && len(totals) > 0 {
		log.Debug("watch finished", "events", totals)
	}
	return nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.Component("watch").Warn("metrics server stopped", "addr", addr, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func writeConversations(ctx context.Context, w io.Writer, list []api.Conversation) error {
	return outfmt.Write(ctx, w, list, func(w io.Writer) error {
		tw := outfmt.NewTabWriter(w)
		_, _ = fmt.Fprintf(tw, "ID\tNAME\tPAGE\tTYPE\tUNREAD\tPINNED\tTAGS\tUPDATED\tSNIPPET\n")
		for _, c := range list {
			unread := ""
			if c.Unread {
				unread = fmt.Sprintf("%d", max(c.UnreadCount, 1))
			}
			pinned := ""
			if c.IsPinned {
				pinned = "yes"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.From.Name, c.PageID, c.Type, unread, pinned,
				strings.Join(c.Tags, ","), formatTime(c.UpdatedAt), truncate(c.Snippet, 40))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "(%d conversations)\n", len(list))
		return err
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
