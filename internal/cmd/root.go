package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/nebula/internal/cmd/cmdutil"
	configcmd "github.com/Iron-Ham/nebula/internal/cmd/config"
	"github.com/Iron-Ham/nebula/internal/cmd/session"
	"github.com/Iron-Ham/nebula/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "nebula",
	Short: "Multi-tenant notebook hub",
	Long: `Nebula spawns per-user notebook sessions in isolated compute units,
routes them under a shared prefix, and stops them when they go idle.

Run 'nebula serve' to start the hub. The other commands talk to a running
hub over its API.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/nebula/config.yaml)")
	flags.String("hub-url", "", "hub API URL (default derived from hub.bind_url)")
	flags.String("as", "", "identity to act as (default $USER)")
	flags.Bool("admin", false, "send the admin flag with requests")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag(cmdutil.KeyHubURL, flags.Lookup("hub-url"))
	_ = viper.BindPFlag(cmdutil.KeyUser, flags.Lookup("as"))
	_ = viper.BindPFlag(cmdutil.KeyAdmin, flags.Lookup("admin"))

	session.Register(rootCmd)
	configcmd.Register(rootCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(routesCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NEBULA")
	// e.g., NEBULA_SPAWNER_START_TIMEOUT for spawner.start_timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
