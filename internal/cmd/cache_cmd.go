package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/socialinbox/inbox-cli/internal/cache"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Aliases: []string{"ch"},
		Short:   "Manage the last-known conversation list cache",
	}

	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCachePathCmd())
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var (
		redisURL string
		pages    []string
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached conversation lists",
		Example: `  inbox cache clear
  inbox cache clear --page 1234
  inbox cache clear --redis-url redis://localhost:6379/0 --page 1234`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := outfmt.GetIO(ctx).Out
			scope := scopeOf(pages)
			if redisURL != "" && scope.IsZero() {
				return fmt.Errorf("--page is required with --redis-url")
			}
			dir, err := cache.DefaultDir()
			if err != nil {
				return fmt.Errorf("could not determine cache directory: %w", err)
			}
			if scope.IsZero() {
				n, err := cache.ClearAll(dir)
				if err != nil {
					return fmt.Errorf("failed to clear cache: %w", err)
				}
				_, _ = fmt.Fprintf(out, "Cache cleared: %s (%d files)\n", dir, n)
				return nil
			}

			sess, err := newSession()
			if err != nil {
				return err
			}
			var store cache.Store = cache.NewFileStore(dir, sess.cfg.APIURL)
			where := "Snapshot"
			if redisURL != "" {
				rs, err := cache.NewRedisStoreFromURL(redisURL, sess.cfg.APIURL, 0)
				if err != nil {
					return err
				}
				defer func() { _ = rs.Close() }()
				store, where = rs, "Redis snapshot"
			}
			if err := store.Clear(ctx, scope); err != nil {
				return fmt.Errorf("failed to clear snapshot: %w", err)
			}
			_, _ = fmt.Fprintf(out, "%s cleared: %s\n", where, scope.Key())
			return nil
		}),
	}
	cmd.Flags().StringVar(&redisURL, "redis-url", os.Getenv("INBOX_REDIS_URL"), "Clear the shared Redis snapshot instead of local files")
	addScopeFlag(cmd, &pages, "Only clear the snapshot of this scope")
	return cmd
}

func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the cache directory and its files",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			out := outfmt.GetIO(cmd.Context()).Out
			dir, err := cache.DefaultDir()
			if err != nil {
				return fmt.Errorf("could not determine cache directory: %w", err)
			}
			_, _ = fmt.Fprintln(out, dir)

			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil // not created yet
			}
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				_, _ = fmt.Fprintf(out, "  %s (%d bytes)\n", e.Name(), info.Size())
			}
			return nil
		}),
	}
}
