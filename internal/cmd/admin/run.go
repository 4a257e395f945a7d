package admin

import (
	"flag"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/8gudbits/QuickServe/internal/adminapi"
	"github.com/8gudbits/QuickServe/internal/adminui"
)

type Options struct {
	Addr        string
	TLSInsecure bool
}

func Run(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.Addr, "addr", "https://127.0.0.1:8080", "server address")
	fs.BoolVar(&opt.TLSInsecure, "insecure", false, "skip TLS verification (for localhost/self-signed)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Loopback addresses get the self-signed setup certificate, so TLS
	// verification is relaxed for them without the explicit flag.
	insecure := opt.TLSInsecure || adminui.RequireInsecureByDefault(opt.Addr)

	c, err := adminapi.NewClient(adminapi.ClientOptions{Addr: opt.Addr, Insecure: insecure})
	if err != nil {
		return err
	}

	p := tea.NewProgram(adminui.New(c, opt.Addr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
