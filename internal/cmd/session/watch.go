package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/styles"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live table of sessions (admin)",
	Long: `Show a live, auto-refreshing table of sessions. Press q to quit.
Use --user with a glob pattern to filter.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchInterval time.Duration
	watchUser     string
)

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 2*time.Second, "Refresh interval")
	watchCmd.Flags().StringVarP(&watchUser, "user", "u", "", "Only show users matching this glob")
}

// RegisterWatchCmd registers the watch command with the given parent command.
func RegisterWatchCmd(parent *cobra.Command) {
	parent.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	filter, err := compileUserFilter(watchUser)
	if err != nil {
		return err
	}
	client := cmdutil.Client()
	fetch := func(ctx context.Context) ([]lifecycle.Snapshot, error) {
		sessions, err := client.Sessions(ctx, watchUser)
		if err != nil {
			return nil, err
		}
		return filter(sessions), nil
	}

	m := newWatchModel(fetch, watchInterval, styles.NewPrinter(os.Stdout))
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

type fetchFunc func(ctx context.Context) ([]lifecycle.Snapshot, error)

type tickMsg time.Time

type sessionsMsg struct {
	sessions []lifecycle.Snapshot
	err      error
	at       time.Time
}

// watchModel polls the hub and renders the session table.
type watchModel struct {
	fetch    fetchFunc
	interval time.Duration
	printer  *styles.Printer

	sessions []lifecycle.Snapshot
	err      error
	updated  time.Time
	width    int
}

func newWatchModel(fetch fetchFunc, interval time.Duration, printer *styles.Printer) watchModel {
	return watchModel{fetch: fetch, interval: interval, printer: printer}
}

func (m watchModel) Init() tea.Cmd {
	return m.refresh()
}

func (m watchModel) refresh() tea.Cmd {
	fetch := m.fetch
	timeout := max(m.interval, time.Second)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		sessions, err := fetch(ctx)
		return sessionsMsg{sessions: sessions, err: err, at: time.Now()}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, m.refresh()
	case sessionsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.sessions = msg.sessions
		}
		m.updated = msg.at
		return m, m.tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	p := m.printer
	var sb strings.Builder

	sb.WriteString(p.Render(styles.Title, "nebula sessions"))
	sb.WriteString("  ")
	sb.WriteString(p.Render(styles.Muted, fmt.Sprintf("%d active", countRunning(m.sessions))))
	sb.WriteString("\n\n")

	if len(m.sessions) == 0 {
		sb.WriteString(p.Render(styles.Muted, "No sessions."))
	} else {
		sb.WriteString(styles.RenderTable(sessionHeaders, sessionRows(p, m.sessions, time.Now()), p.Plain()))
	}
	sb.WriteString("\n\n")

	if m.err != nil {
		sb.WriteString(p.Render(styles.Error, "refresh failed: "+m.err.Error()))
		sb.WriteString("\n")
	}
	footer := "q quit • r refresh"
	if !m.updated.IsZero() {
		footer += " • updated " + m.updated.Format(time.TimeOnly)
	}
	sb.WriteString(p.Render(styles.Muted, footer))
	return styles.TruncateLines(sb.String(), m.width)
}

func countRunning(sessions []lifecycle.Snapshot) int {
	n := 0
	for _, s := range sessions {
		if s.State == lifecycle.StateRunning {
			n++
		}
	}
	return n
}
