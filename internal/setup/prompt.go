package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter reads wizard answers. Password input suppresses echo when
// the input is a terminal and falls back to plain line reads otherwise.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd for echo suppression, -1 when piped
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

// ask prompts until a non-empty answer arrives; empty takes the default.
func (p *prompter) ask(label, def string) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(p.out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(p.out, "%s: ", label)
		}
		line, err := p.readLine()
		if line == "" && def != "" {
			return def, nil
		}
		if line != "" {
			return line, nil
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintln(p.out, "a value is required")
	}
}

// optional prompts once; empty input is a valid answer.
func (p *prompter) optional(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}

// yesno prompts for a boolean; empty input or EOF takes the default.
func (p *prompter) yesno(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s (%s): ", label, hint)
		line, err := p.readLine()
		switch strings.ToLower(line) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err != nil {
			return def, nil
		}
		fmt.Fprintln(p.out, "please answer y or n")
	}
}

// password prompts twice and requires a non-empty matching pair.
func (p *prompter) password(label string) (string, error) {
	for {
		p1, err := p.readSecret(label)
		if err != nil {
			return "", err
		}
		p2, err := p.readSecret("Confirm password")
		if err != nil {
			return "", err
		}
		if p1 == "" {
			fmt.Fprintln(p.out, "password cannot be empty")
			continue
		}
		if p1 != p2 {
			fmt.Fprintln(p.out, "passwords do not match")
			continue
		}
		return p1, nil
	}
}

func (p *prompter) readSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if p.fd >= 0 {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	// Piped input; echo suppression is not possible.
	line, err := p.readLine()
	if line == "" && err != nil {
		return "", err
	}
	return line, nil
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	return strings.TrimSpace(line), err
}
