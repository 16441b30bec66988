package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/config"
	"github.com/socialinbox/inbox-cli/internal/visibility"
)

// session is the resolved account and its API client.
type session struct {
	cfg    config.ClientConfig
	client *api.Client
	engine config.EngineSettings
}

func newSession() (*session, error) {
	cfg, err := config.ResolveClientConfig(config.Overrides{
		APIURL:    flags.APIURL,
		SocketURL: flags.SocketURL,
		Token:     flags.Token,
	})
	if err != nil {
		return nil, err
	}
	client := api.New(cfg.APIURL, cfg.Token)
	client.UserAgent = "inbox-cli/" + version
	if flags.Timeout > 0 {
		client.HTTP.Timeout = flags.Timeout
	}
	return &session{cfg: cfg, client: client, engine: config.LoadEngineSettings()}, nil
}

// scopeOf turns --page values into a scope: one id is a single page, more
// are a page group.
func scopeOf(pages []string) api.Scope {
	var ids []string
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	switch len(ids) {
	case 0:
		return api.Scope{}
	case 1:
		return api.Scope{PageID: ids[0]}
	default:
		return api.Scope{PageIDs: ids}
	}
}

func addScopeFlag(cmd *cobra.Command, pages *[]string, usage string) {
	cmd.Flags().StringSliceVarP(pages, "page", "p", nil, usage)
	flagAlias(cmd.Flags(), "page", "pages")
}

// identity holds the acting operator and the routing settings.
type identity struct {
	settings *visibility.AssignmentSettings
	user     *visibility.User
}

func addIdentityFlags(cmd *cobra.Command, settingsPath *string, admin *bool) {
	cmd.Flags().StringVar(settingsPath, "settings", "", "Assignment settings JSON file ('-' for stdin)")
	cmd.Flags().BoolVar(admin, "admin", false, "Act with assignment-settings permission (sees every conversation)")
}

// loadIdentity builds the operator from the account's user id. Without a
// settings file no routing gate applies: the operator sees everything. With
// one but no user id, live inserts are rejected.
func loadIdentity(in io.Reader, userID, settingsPath string, admin bool) (identity, error) {
	settings := &visibility.AssignmentSettings{}
	if settingsPath == "" {
		admin = true
	} else {
		var (
			data []byte
			err  error
		)
		if settingsPath == "-" {
			data, err = io.ReadAll(in)
		} else {
			data, err = os.ReadFile(settingsPath)
		}
		if err != nil {
			return identity{}, fmt.Errorf("failed to read --settings %q: %w", settingsPath, err)
		}
		if settings, err = visibility.ParseSettings(data); err != nil {
			return identity{}, err
		}
	}
	var user *visibility.User
	if userID != "" || admin {
		user = &visibility.User{ID: userID, Permissions: visibility.Permissions{}}
		if admin {
			user.Permissions[visibility.GroupAutoAssignment] = int(visibility.ActionRead | visibility.ActionUpdate)
		}
	}
	return identity{settings: settings, user: user}, nil
}
