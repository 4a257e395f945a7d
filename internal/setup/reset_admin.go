package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/db"
)

// ResetAdminOptions locates the database and the target account.
// Password and PasswordEnv are mutually exclusive; with neither set the
// password is prompted for.
type ResetAdminOptions struct {
	DBPath      string
	Username    string // default "admin"
	Password    string
	PasswordEnv bool // read QUICKSERVE_ADMIN_PASSWORD

	In  io.Reader
	Out io.Writer
}

// ResetAdmin sets a new password for an admin account directly in the
// database and revokes that account's sessions. It is the recovery path
// when no admin can log in, so it never goes through the HTTP API.
func ResetAdmin(ctx context.Context, opt ResetAdminOptions) error {
	if opt.DBPath == "" {
		return errors.New("db path is required")
	}
	d, err := db.Open(ctx, opt.DBPath)
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run quickserve setup")
	}

	username := strings.TrimSpace(opt.Username)
	if username == "" {
		username = "admin"
	}
	u, found, err := d.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !found || !u.IsAdmin {
		admins, err := adminUsernames(ctx, d)
		if err != nil {
			return err
		}
		if len(admins) == 0 {
			return errors.New("no admin accounts exist")
		}
		return fmt.Errorf("%q is not an admin account; admins: %s", username, strings.Join(admins, ", "))
	}

	pass, err := resolveAdminPassword(opt)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(auth.PreHash(pass), auth.DefaultArgon2Params())
	if err != nil {
		return err
	}
	if err := d.SetUserPasswordHash(ctx, u.ID, hash); err != nil {
		return err
	}
	return d.DeleteSessionsForUser(ctx, u.ID)
}

func resolveAdminPassword(opt ResetAdminOptions) (string, error) {
	if opt.Password != "" && opt.PasswordEnv {
		return "", errors.New("choose one of --admin-password or --admin-password-env")
	}
	if opt.PasswordEnv {
		v := strings.TrimSpace(os.Getenv("QUICKSERVE_ADMIN_PASSWORD"))
		if v == "" {
			return "", errors.New("QUICKSERVE_ADMIN_PASSWORD is empty")
		}
		return v, nil
	}
	if opt.Password != "" {
		v := strings.TrimSpace(opt.Password)
		if v == "" {
			return "", errors.New("admin password is empty")
		}
		return v, nil
	}
	return newPrompter(opt.In, opt.Out).password("New admin password")
}

func adminUsernames(ctx context.Context, d *db.DB) ([]string, error) {
	users, err := d.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, u := range users {
		if u.IsAdmin {
			names = append(names, u.Username)
		}
	}
	sort.Strings(names)
	return names, nil
}
