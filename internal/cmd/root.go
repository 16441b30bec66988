package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/debug"
	"github.com/socialinbox/inbox-cli/internal/dryrun"
	"github.com/socialinbox/inbox-cli/internal/filter"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Output    string
	Debug     bool
	Quiet     bool
	Query     string
	Compact   bool
	Timeout   time.Duration
	APIURL    string
	SocketURL string
	Token     string
	DryRun    bool
}

// flags holds the global command flags. This is package-level mutable state
// that MUST be reset at the start of every Execute() call. Tests depend on
// this reset to get clean state.
var flags = rootFlags{
	Output:  defaultOutput(),
	Timeout: api.DefaultTimeout,
}

func defaultOutput() string {
	if value := strings.TrimSpace(os.Getenv("INBOX_OUTPUT")); value != "" {
		return value
	}
	return "text"
}

// loadEnvFile loads INBOX_ENV_FILE, or <config dir>/inbox-cli/.env, when it
// exists. Variables already set in the environment are not overwritten.
func loadEnvFile() {
	path := strings.TrimSpace(os.Getenv("INBOX_ENV_FILE"))
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return
		}
		path = filepath.Join(dir, "inbox-cli", ".env")
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	// Runs before the flag reset so env-driven defaults see the file.
	loadEnvFile()

	flags = rootFlags{
		Output:  defaultOutput(),
		Timeout: api.DefaultTimeout,
	}

	root := &cobra.Command{
		Use:           "inbox",
		Short:         "Live social inbox for the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if flags.Query != "" && flags.Output == "text" {
				if flagOrAliasChanged(cmd, "output") {
					return fmt.Errorf("--query requires --output json or jsonl")
				}
				flags.Output = "json"
			}
			mode, err := outfmt.Parse(flags.Output)
			if err != nil {
				return err
			}
			ctx = outfmt.WithMode(ctx, mode)
			ctx = outfmt.WithCompact(ctx, flags.Compact)

			query, err := filter.Compile(flags.Query)
			if err != nil {
				return err
			}
			ctx = outfmt.WithQuery(ctx, query)

			// Streams injected by the caller win over the process streams.
			streams := *outfmt.GetIO(ctx)
			if flags.Quiet {
				streams.ErrOut = io.Discard
			}
			ctx = outfmt.WithIO(ctx, &streams)
			cmd.SetOut(streams.Out)
			cmd.SetErr(streams.ErrOut)

			if flags.Timeout < 0 {
				return fmt.Errorf("--timeout must be >= 0")
			}

			debug.SetupLoggerTo(streams.ErrOut, flags.Debug, os.Getenv("INBOX_LOG_FORMAT"))
			ctx = debug.WithDebug(ctx, flags.Debug)
			ctx = dryrun.WithDryRun(ctx, flags.DryRun)

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	root.SetOut(outfmt.GetIO(ctx).Out)
	root.SetErr(outfmt.GetIO(ctx).ErrOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl|ndjson (env INBOX_OUTPUT)")
	pf.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "Q", false, "Suppress non-essential output")
	pf.StringVarP(&flags.Query, "query", "q", "", "JQ expression to filter JSON output")
	pf.BoolVar(&flags.Compact, "compact-json", false, "Compact JSON output (no indentation)")
	pf.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "HTTP request timeout (e.g., 30s, 2m)")
	pf.StringVar(&flags.APIURL, "api-url", "", "REST API base URL (overrides the stored profile)")
	pf.StringVar(&flags.SocketURL, "socket-url", "", "Realtime socket URL (overrides the stored profile)")
	pf.StringVar(&flags.Token, "token", "", "Access token (overrides the stored profile)")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "Preview conversation actions without executing them")

	flagAlias(pf, "output", "out")
	flagAlias(pf, "query", "jq")
	flagAlias(pf, "compact-json", "cj")
	flagAlias(pf, "debug", "dbg")
	flagAlias(pf, "timeout", "to")
	flagAlias(pf, "dry-run", "dr")

	root.AddCommand(newAuthCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newPinCmd(true))
	root.AddCommand(newPinCmd(false))
	root.AddCommand(newReadCmd(false))
	root.AddCommand(newReadCmd(true))
	root.AddCommand(newBlockCmd(true))
	root.AddCommand(newBlockCmd(false))
	root.AddCommand(newAssignCmd())
	root.AddCommand(newThreadCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newVersionCmd())

	if _, err := root.ExecuteC(); err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			_, _ = fmt.Fprintln(root.ErrOrStderr(), err)
		}
		return err
	}
	return nil
}

// RunE wraps a command body so failures are printed once, with
// suggestions, and still carry their exit code.
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		if outfmt.IsJSON(cmd.Context()) {
			_ = outfmt.WriteJSON(cmd.ErrOrStderr(), map[string]any{
				"error": err.Error(),
				"code":  ExitCode(err),
			})
		} else {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), HandleError(err))
		}
		return &handledError{err: err, exitCode: ExitCode(err)}
	}
}

// errAlreadyHandled indicates the error was already printed to stderr.
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string { return e.err.Error() }

// Is lets Execute recognise an already printed error.
func (e *handledError) Is(target error) bool { return target == errAlreadyHandled }

func (e *handledError) Unwrap() error { return e.err }

func (e *handledError) ExitCode() int { return e.exitCode }

// aliasBridgeValue wraps a pflag.Value so that Set() on the alias also
// marks the canonical flag as Changed.
type aliasBridgeValue struct {
	pflag.Value
	canonical *pflag.Flag
}

func (v *aliasBridgeValue) Set(s string) error {
	if err := v.Value.Set(s); err != nil {
		return err
	}
	v.canonical.Changed = true
	return nil
}

type aliasBridgeSliceValue struct {
	aliasBridgeValue
	slice pflag.SliceValue
}

func (v *aliasBridgeSliceValue) Append(s string) error     { return v.slice.Append(s) }
func (v *aliasBridgeSliceValue) Replace(ss []string) error { return v.slice.Replace(ss) }
func (v *aliasBridgeSliceValue) GetSlice() []string        { return v.slice.GetSlice() }

// flagAlias registers a hidden alias for an existing flag. Both flags share
// the same underlying Value.
func flagAlias(fs *pflag.FlagSet, name, alias string) {
	f := fs.Lookup(name)
	if f == nil {
		panic(fmt.Sprintf("flagAlias: flag %q not found", name))
	}
	a := *f
	a.Name = alias
	a.Shorthand = ""
	a.Usage = ""
	a.Hidden = true
	bridge := &aliasBridgeValue{Value: f.Value, canonical: f}
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		a.Value = &aliasBridgeSliceValue{aliasBridgeValue: *bridge, slice: sv}
	} else {
		a.Value = bridge
	}
	ann := map[string][]string{"alias-of": {name}}
	for k, v := range f.Annotations {
		if k == cobra.BashCompOneRequiredFlag {
			continue
		}
		ann[k] = v
	}
	a.Annotations = ann
	fs.AddFlag(&a)
}

// flagOrAliasChanged reports whether the named flag or one of its hidden
// aliases was set explicitly.
func flagOrAliasChanged(cmd *cobra.Command, name string) bool {
	if cmd.Flags().Changed(name) || cmd.InheritedFlags().Changed(name) {
		return true
	}
	changed := func(fs *pflag.FlagSet) bool {
		found := false
		fs.VisitAll(func(f *pflag.Flag) {
			if ann := f.Annotations["alias-of"]; !found && len(ann) > 0 && ann[0] == name && fs.Changed(f.Name) {
				found = true
			}
		})
		return found
	}
	return changed(cmd.Flags()) || changed(cmd.InheritedFlags())
}
