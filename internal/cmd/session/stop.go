package session

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
)

var stopCmd = &cobra.Command{
	Use:   "stop [user] [name]",
	Short: "Stop a session",
	Long: `Stop a session and release its routes and network attachment.
Stopping a session that does not exist succeeds. A spawn in progress is
cancelled.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStop,
}

// RegisterStopCmd registers the stop command with the given parent command.
func RegisterStopCmd(parent *cobra.Command) {
	parent.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	user, name := cmdutil.SessionArgs(args)

	if err := cmdutil.Client().Stop(cmd.Context(), user, name); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}

	cmdutil.Printer(cmd).Println(fmt.Sprintf("Session %s/%s stopped", user, name))
	return nil
}
