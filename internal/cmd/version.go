package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socialinbox/inbox-cli/internal/outfmt"
	"github.com/socialinbox/inbox-cli/internal/update"
)

// version is set at build time via ldflags
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			streams := outfmt.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(streams.Out, "inbox-cli version %s\n", version)

			result := update.CheckForUpdate(cmd.Context(), version)
			if result != nil && result.UpdateAvailable {
				_, _ = fmt.Fprintf(streams.ErrOut, "\nUpdate available: %s -> %s\n", result.CurrentVersion, result.LatestVersion)
				_, _ = fmt.Fprintf(streams.ErrOut, "Download: %s\n", result.UpdateURL)
			}
		},
	}
}
