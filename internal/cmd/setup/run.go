package setup

import (
	"context"
	"flag"

	isetup "github.com/8gudbits/QuickServe/internal/setup"
)

func Run(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	var opt isetup.Options
	fs.StringVar(&opt.ConfigPath, "config", "quickserve.yaml", "where to write the configuration file")
	fs.StringVar(&opt.DataDir, "data-dir", "", "data directory (database and keys); prompted when empty")
	fs.StringVar(&opt.RootDir, "root", "", "directory to share; prompted when empty")
	fs.StringVar(&opt.ImportPath, "import", "", "seed users and settings from a legacy config.json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return isetup.Run(context.Background(), opt)
}
