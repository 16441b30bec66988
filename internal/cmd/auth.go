package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/socialinbox/inbox-cli/internal/config"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auth",
		Aliases: []string{"au"},
		Short:   "Manage stored accounts",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthProfilesCmd())
	cmd.AddCommand(newAuthUseCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var userID, profile string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an account to the keychain",
		Long: strings.TrimSpace(`
Store the REST endpoint, realtime endpoint and token of an inbox account in
the OS keychain. The saved profile becomes the current one. The endpoints
and token are taken from the global --api-url, --socket-url and --token.
`),
		Example: strings.TrimSpace(`
  inbox auth login --api-url https://api.example.com --socket-url wss://rt.example.com/socket --token TOKEN
  inbox auth login --profile staging --api-url ... --socket-url ... --token ... --user-id 42
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			account := config.Account{
				APIURL:    strings.TrimSpace(flags.APIURL),
				SocketURL: strings.TrimSpace(flags.SocketURL),
				Token:     strings.TrimSpace(flags.Token),
				UserID:    strings.TrimSpace(userID),
			}
			if account.APIURL == "" {
				return fmt.Errorf("--api-url is required")
			}
			if account.SocketURL == "" {
				return fmt.Errorf("--socket-url is required")
			}
			if account.Token == "" {
				return fmt.Errorf("--token is required")
			}
			if err := config.SaveProfile(profile, account); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			ctx := cmd.Context()
			payload := map[string]any{
				"saved":      true,
				"profile":    profile,
				"api_url":    strings.TrimSuffix(account.APIURL, "/"),
				"socket_url": account.SocketURL,
			}
			return outfmt.Write(ctx, outfmt.GetIO(ctx).Out, payload, func(w io.Writer) error {
				_, _ = fmt.Fprintln(w, "Credentials saved.")
				_, _ = fmt.Fprintf(w, "  API URL: %s\n", payload["api_url"])
				_, _ = fmt.Fprintf(w, "  Socket URL: %s\n", account.SocketURL)
				if profile != "default" {
					_, _ = fmt.Fprintf(w, "  Profile: %s\n", profile)
				}
				return nil
			})
		}),
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Operator user id the token belongs to")
	cmd.Flags().StringVar(&profile, "profile", "default", "Profile name to save the account under")
	flagAlias(cmd.Flags(), "profile", "pf")
	flagAlias(cmd.Flags(), "user-id", "uid")

	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active account",
		Long:  "Display the active account. The token is masked.",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := outfmt.GetIO(ctx).Out
			usingEnv := strings.TrimSpace(os.Getenv("INBOX_API_URL")) != ""

			account, err := config.LoadAccount()
			if err != nil {
				if !errors.Is(err, config.ErrNotConfigured) {
					return fmt.Errorf("failed to load credentials: %w", err)
				}
				payload := map[string]any{"authenticated": false}
				return outfmt.Write(ctx, out, payload, func(w io.Writer) error {
					_, _ = fmt.Fprintln(w, "Not authenticated.")
					_, _ = fmt.Fprintln(w, "Run 'inbox auth login' to configure an account.")
					return nil
				})
			}

			var profile string
			if !usingEnv {
				if current, err := config.CurrentProfile(); err == nil {
					profile = current
				}
			}
			source := "keychain"
			if usingEnv {
				source = "env"
			}
			payload := map[string]any{
				"authenticated": true,
				"api_url":       account.APIURL,
				"socket_url":    account.SocketURL,
				"token":         maskToken(account.Token),
				"source":        source,
			}
			if account.UserID != "" {
				payload["user_id"] = account.UserID
			}
			if profile != "" {
				payload["profile"] = profile
			}
			return outfmt.Write(ctx, out, payload, func(w io.Writer) error {
				_, _ = fmt.Fprintln(w, "Authenticated")
				_, _ = fmt.Fprintf(w, "  API URL: %s\n", account.APIURL)
				_, _ = fmt.Fprintf(w, "  Socket URL: %s\n", account.SocketURL)
				_, _ = fmt.Fprintf(w, "  Token: %s\n", maskToken(account.Token))
				if account.UserID != "" {
					_, _ = fmt.Fprintf(w, "  User ID: %s\n", account.UserID)
				}
				if profile != "" {
					_, _ = fmt.Fprintf(w, "  Profile: %s\n", profile)
				}
				_, _ = fmt.Fprintf(w, "  Source: %s\n", source)
				return nil
			})
		}),
	}
}

func newAuthLogoutCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove a stored account",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if profile == "" {
				if current, err := config.CurrentProfile(); err == nil {
					profile = current
				}
			}
			if _, err := config.LoadProfile(profile); errors.Is(err, config.ErrNotConfigured) {
				_, _ = fmt.Fprintln(outfmt.GetIO(cmd.Context()).Out, "No credentials found.")
				return nil
			}
			if err := config.DeleteProfile(profile); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}
			_, _ = fmt.Fprintf(outfmt.GetIO(cmd.Context()).Out, "Profile %s removed.\n", profile)
			return nil
		}),
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Profile name to remove (defaults to current)")
	flagAlias(cmd.Flags(), "profile", "pf")

	return cmd
}

func newAuthProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"ls"},
		Short:   "List stored profiles",
		Args:    cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			profiles, err := config.ListProfiles()
			if err != nil {
				return err
			}
			current, _ := config.CurrentProfile()
			type row struct {
				Name    string `json:"name"`
				Current bool   `json:"current"`
			}
			rows := make([]row, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, row{Name: p, Current: p == current})
			}
			return outfmt.Write(ctx, outfmt.GetIO(ctx).Out, rows, func(w io.Writer) error {
				if len(rows) == 0 {
					_, _ = fmt.Fprintln(w, "No profiles.")
					return nil
				}
				for _, r := range rows {
					mark := " "
					if r.Current {
						mark = "*"
					}
					_, _ = fmt.Fprintf(w, "%s %s\n", mark, r.Name)
				}
				return nil
			})
		}),
	}
}

func newAuthUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <profile>",
		Short: "Switch the current profile",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if _, err := config.LoadProfile(name); err != nil {
				if errors.Is(err, config.ErrNotConfigured) {
					return fmt.Errorf("profile %q not found", name)
				}
				return err
			}
			if err := config.SetCurrentProfile(name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(outfmt.GetIO(cmd.Context()).Out, "Now using profile %s.\n", name)
			return nil
		}),
	}
}

// maskToken shows only the first and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) < 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
