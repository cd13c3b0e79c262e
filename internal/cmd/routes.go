package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	"github.com/Iron-Ham/nebula/internal/proxy"
	"github.com/Iron-Ham/nebula/internal/styles"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the proxy route table (admin)",
	Long: `Show every registered prefix and its target. Sub-service routes are
listed under the session route they belong to.`,
	Args: cobra.NoArgs,
	RunE: runRoutes,
}

func runRoutes(cmd *cobra.Command, args []string) error {
	routes, err := cmdutil.Client().Routes(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}

	p := cmdutil.Printer(cmd)
	if len(routes) == 0 {
		p.Println("No routes.")
		return nil
	}
	p.Table(routeHeaders, routeRows(p, routes))
	return nil
}

var routeHeaders = []string{"prefix", "target", "absolute", "command"}

func routeRows(p *styles.Printer, routes []*proxy.Route) [][]string {
	var rows [][]string
	for _, r := range routes {
		rows = append(rows, []string{r.Prefix, r.Target, yesNo(r.AbsoluteURL), ""})
		for _, s := range r.SubRoutes {
			rows = append(rows, []string{
				p.Render(styles.Muted, "  ↳ ") + s.Prefix,
				s.Target,
				yesNo(s.AbsoluteURL),
				strings.Join(s.Command, " "),
			})
		}
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
