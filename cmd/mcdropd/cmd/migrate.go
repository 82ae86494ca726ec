package cmd

import (
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/mcdb"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the mcdrop tables",
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoadSettings()
		db := mcdb.MustConnectToDB(settings)
		if err := mcdb.RunMigrations(db); err != nil {
			clog.Global().Fatalf("Migrations failed: %s", err)
		}

		clog.Global().Infof("Migrated %s database", settings.DBDriver)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
