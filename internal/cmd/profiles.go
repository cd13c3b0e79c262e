package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/styles"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List spawnable profiles",
	Long: `List the profiles the hub offers, in the order shown on the spawn form.
The first profile is used when a spawn request names none.

With --local the catalog is built from the local configuration instead of
asking a running hub.`,
	Args: cobra.NoArgs,
	RunE: runProfiles,
}

var profilesLocal bool

func init() {
	profilesCmd.Flags().BoolVar(&profilesLocal, "local", false, "Read profiles from the local configuration")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	var profiles []profile.Profile
	if profilesLocal {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		catalog, err := profile.Load(cfg)
		if err != nil {
			return err
		}
		profiles = catalog.List()
	} else {
		var err error
		profiles, err = cmdutil.Client().Profiles(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
	}

	p := cmdutil.Printer(cmd)
	if len(profiles) == 0 {
		p.Println("No profiles.")
		return nil
	}
	p.Table(profileHeaders, profileRows(p, profiles))
	return nil
}

var profileHeaders = []string{"slug", "name", "image", "cpu", "memory", "url", "backend"}

func profileRows(p *styles.Printer, profiles []profile.Profile) [][]string {
	rows := make([][]string, 0, len(profiles))
	for i, pr := range profiles {
		slug := pr.Slug
		if i == 0 {
			slug = p.Render(styles.Primary, slug) + " *"
		}
		rows = append(rows, []string{
			slug,
			pr.DisplayName,
			pr.Image,
			strconv.FormatFloat(pr.CPULimit, 'f', -1, 64),
			profile.FormatMemory(pr.MemLimit),
			pr.DefaultURL,
			pr.Backend,
		})
	}
	return rows
}
