package cmd

import (
	"fmt"
	"strings"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/mcdb"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/spf13/cobra"
)

var (
	userName  string
	userEmail string
	userAdmin bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage mcdrop users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user and print its API key",
	Long: `Create a user and print its API key. The user is an admin when --admin is given
or when the email matches MCDROP_ADMIN_EMAIL.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoadSettings()
		if userEmail == "" {
			clog.Global().Fatalf("--email is required")
		}

		if userName == "" {
			userName = userEmail
		}

		isAdmin := userAdmin ||
			(settings.AdminUserEmail != "" && strings.EqualFold(settings.AdminUserEmail, userEmail))

		userStor := stor.NewGormUserStor(mcdb.MustConnectToDB(settings))
		user, err := userStor.CreateUser(&mcmodel.User{Name: userName, Email: userEmail, IsAdmin: isAdmin})
		if err != nil {
			clog.Global().Fatalf("Unable to create user %s: %s", userEmail, err)
		}

		fmt.Printf("Created user %s (id %d, admin %t)\nAPI key: %s\n", user.Email, user.ID, user.IsAdmin, user.ApiToken)
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().StringVar(&userName, "name", "", "display name (defaults to the email)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userAddCmd.Flags().BoolVar(&userAdmin, "admin", false, "allow access to the admin endpoints")
}
