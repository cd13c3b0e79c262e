// Package cmdutil holds helpers shared by the CLI subcommand packages.
package cmdutil

import (
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/nebula/internal/api"
	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/styles"
)

// Viper keys for client flags bound on the root command.
const (
	KeyHubURL = "cli.hub_url"
	KeyUser   = "cli.user"
	KeyAdmin  = "cli.admin"
)

// HubURL returns the API base URL: the --hub-url flag, else one derived
// from hub.bind_url with an unspecified host replaced by loopback.
func HubURL() string {
	if u := viper.GetString(KeyHubURL); u != "" {
		return u
	}
	bind := viper.GetString("hub.bind_url")
	if bind == "" {
		bind = config.Default().Hub.BindURL
	}
	if rest, ok := strings.CutPrefix(bind, "http://:"); ok {
		return "http://127.0.0.1:" + rest
	}
	if rest, ok := strings.CutPrefix(bind, "http://0.0.0.0:"); ok {
		return "http://127.0.0.1:" + rest
	}
	return bind
}

// Identity returns the user the CLI acts as: the --as flag, else $USER,
// else the OS account name.
func Identity() string {
	if u := viper.GetString(KeyUser); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// Client returns an API client configured from the root flags.
func Client() *api.Client {
	return api.NewClient(HubURL(), Identity(), viper.GetBool(KeyAdmin), nil)
}

// Printer returns a printer for the command's output stream.
func Printer(cmd *cobra.Command) *styles.Printer {
	return styles.NewPrinter(cmd.OutOrStdout())
}

// SessionArgs parses "<user> [name]" positional arguments. A missing user
// defaults to the caller's identity.
func SessionArgs(args []string) (user, name string) {
	switch len(args) {
	case 0:
		return Identity(), ""
	case 1:
		return args[0], ""
	default:
		return args[0], args[1]
	}
}
