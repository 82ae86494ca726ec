package cmd

import (
	"os"

	"github.com/materials-commons/mcdrop/pkg/client"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apikey    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcdrop",
	Short: "Send and receive files through an mcdrop server",
	Long: `Send and receive files through an mcdrop server. The sender runs
"mcdrop send <file>" and shares the printed code; the receiver runs
"mcdrop receive <code>".

The server and API key default to MCDROP_SERVER and MCDROP_API_KEY, which may also
be set in the dotenv file named by MC_DOTENV_PATH.`,
	SilenceUsage: true,
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
	c := config.NewDotenvConfig(os.Getenv("MC_DOTENV_PATH"))
	_ = c.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		c.GetKeyWithDefault("MCDROP_SERVER", "http://localhost:1360"), "mcdrop server URL")
	rootCmd.PersistentFlags().StringVar(&apikey, "apikey", c.GetKey("MCDROP_API_KEY"), "API key")
}

func newClient() *client.Client {
	return client.New(serverURL, apikey)
}
