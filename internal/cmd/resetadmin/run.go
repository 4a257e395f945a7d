// Package resetadmin implements the "quickserve reset-admin" CLI
// subcommand. It resets an admin password directly in the SQLite
// database and does not require the server to be running.
package resetadmin

import (
	"context"
	"flag"

	isetup "github.com/8gudbits/QuickServe/internal/setup"
)

func Run(args []string) error {
	fs := flag.NewFlagSet("reset-admin", flag.ContinueOnError)
	var opt isetup.ResetAdminOptions
	fs.StringVar(&opt.DBPath, "db", "./data/quickserve.db", "sqlite database path")
	fs.StringVar(&opt.Username, "username", "admin", "admin account to reset")
	fs.StringVar(&opt.Password, "admin-password", "", "set the password non-interactively")
	fs.BoolVar(&opt.PasswordEnv, "admin-password-env", false, "read the password from QUICKSERVE_ADMIN_PASSWORD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return isetup.ResetAdmin(context.Background(), opt)
}
