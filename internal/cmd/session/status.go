package session

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	"github.com/Iron-Ham/nebula/internal/styles"
)

var statusCmd = &cobra.Command{
	Use:   "status [user] [name]",
	Short: "Show a session's state",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runStatus,
}

// RegisterStatusCmd registers the status command with the given parent command.
func RegisterStatusCmd(parent *cobra.Command) {
	parent.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	user, name := cmdutil.SessionArgs(args)

	snap, err := cmdutil.Client().Status(cmd.Context(), user, name)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	p := cmdutil.Printer(cmd)
	p.Println(p.Render(styles.Title, fmt.Sprintf("%s/%s", snap.User, snap.Name)))
	p.Println(fmt.Sprintf("  state:         %s", p.State(snap.State)))
	p.Println(fmt.Sprintf("  profile:       %s", snap.Profile))
	if snap.Unit != "" {
		p.Println(fmt.Sprintf("  unit:          %s", snap.Unit))
	}
	if snap.Address != "" {
		p.Println(fmt.Sprintf("  address:       %s", snap.Address))
	}
	p.Println(fmt.Sprintf("  created:       %s", snap.CreatedAt.Format(time.RFC3339)))
	p.Println(fmt.Sprintf("  last activity: %s", snap.LastActivity.Format(time.RFC3339)))
	if snap.Failure != "" {
		p.Println(fmt.Sprintf("  failure:       %s", p.Render(styles.Error, snap.Failure)))
	}
	return nil
}
