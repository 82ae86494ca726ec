package cmd

import (
	"os"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcdropd",
	Short: "The mcdrop file handoff daemon",
	Long: `The mcdrop file handoff daemon pairs a sender and a receiver through a short
numeric code and relays the file between them in chunks. Run "mcdropd serve" to
start the API server.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (yaml, toml, json or env). Defaults to the dotenv file in MC_DOTENV_PATH")
}

// loadSettings reads the configuration named by --config, falling back to the dotenv
// file in MC_DOTENV_PATH and then to the environment alone. It also applies the
// configured log level.
func loadSettings() (config.Settings, error) {
	var c config.Configer
	if cfgFile != "" {
		c = config.NewViperConfig(cfgFile)
	} else {
		c = config.NewDotenvConfig(os.Getenv("MC_DOTENV_PATH"))
	}

	if err := c.Load(); err != nil {
		return config.Settings{}, errors.Wrap(err, "failed loading configuration")
	}

	config.SetConfig(c)

	settings, err := config.LoadSettings(c)
	if err != nil {
		return settings, err
	}

	if err := clog.SetGlobalLoggerLevelFromString(settings.LogLevel); err != nil {
		return settings, errors.Wrapf(err, "bad MCDROP_LOG_LEVEL %q", settings.LogLevel)
	}

	return settings, nil
}

func mustLoadSettings() config.Settings {
	settings, err := loadSettings()
	if err != nil {
		clog.Global().Fatalf("Invalid configuration: %s", err)
	}

	return settings
}
