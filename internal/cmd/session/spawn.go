// Package session provides CLI commands for managing hub sessions: spawning,
// stopping, inspecting and listing them.
package session

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	"github.com/Iron-Ham/nebula/internal/styles"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn [user] [name]",
	Short: "Spawn a session",
	Long: `Ask the hub to start a session for a user. Without arguments the
caller's default session is spawned. A name selects a named session.

If a session is already running for the key, its handle is returned. If one
is being spawned with a different profile, the command fails with a
conflict naming the profile in flight.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runSpawn,
}

var spawnProfile string

func init() {
	spawnCmd.Flags().StringVarP(&spawnProfile, "profile", "p", "", "Profile slug (default: the hub's first profile)")
}

// RegisterSpawnCmd registers the spawn command with the given parent command.
func RegisterSpawnCmd(parent *cobra.Command) {
	parent.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	user, name := cmdutil.SessionArgs(args)
	p := cmdutil.Printer(cmd)

	h, err := cmdutil.Client().Spawn(cmd.Context(), user, name, spawnProfile)
	if err != nil {
		return fmt.Errorf("failed to spawn session: %w", err)
	}

	p.Println(fmt.Sprintf("%s %s/%s (%s)", p.Render(styles.Secondary, "✓"), h.User, h.Name, h.Profile))
	p.Println(fmt.Sprintf("  state:  %s", p.State(h.State)))
	p.Println(fmt.Sprintf("  url:    %s", h.Path))
	p.Println(fmt.Sprintf("  id:     %s", p.Render(styles.Muted, h.SessionID)))
	return nil
}
