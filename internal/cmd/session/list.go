package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/styles"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions (admin)",
	Long: `List every session the hub knows about, ordered by user and name.
Failed sessions are listed until they are replaced or stopped.

Use --user with a glob pattern to filter, e.g. --user 'a*'.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var sessionsUser string

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsUser, "user", "u", "", "Only list users matching this glob")
}

// RegisterSessionsCmd registers the sessions command with the given parent command.
func RegisterSessionsCmd(parent *cobra.Command) {
	parent.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	filter, err := compileUserFilter(sessionsUser)
	if err != nil {
		return err
	}

	sessions, err := cmdutil.Client().Sessions(cmd.Context(), sessionsUser)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions = filter(sessions)

	p := cmdutil.Printer(cmd)
	if len(sessions) == 0 {
		p.Println("No sessions.")
		return nil
	}
	p.Table(sessionHeaders, sessionRows(p, sessions, time.Now()))
	return nil
}

// compileUserFilter returns a function keeping sessions whose user matches
// pattern. An empty pattern keeps everything.
func compileUserFilter(pattern string) (func([]lifecycle.Snapshot) []lifecycle.Snapshot, error) {
	if pattern == "" {
		return func(s []lifecycle.Snapshot) []lifecycle.Snapshot { return s }, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid --user pattern %q: %w", pattern, err)
	}
	return func(s []lifecycle.Snapshot) []lifecycle.Snapshot {
		return slices.DeleteFunc(s, func(snap lifecycle.Snapshot) bool {
			return !g.Match(snap.User)
		})
	}, nil
}

var sessionHeaders = []string{"user", "name", "profile", "state", "address", "idle"}

func sessionRows(p *styles.Printer, sessions []lifecycle.Snapshot, now time.Time) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = "-"
		}
		addr := s.Address
		if addr == "" {
			addr = "-"
		}
		rows = append(rows, []string{
			s.User,
			name,
			s.Profile,
			p.State(s.State),
			addr,
			formatIdle(now.Sub(s.LastActivity)),
		})
	}
	return rows
}

func formatIdle(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
