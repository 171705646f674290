package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter asks for credentials, hiding passwords when stdin is a terminal.
type prompter struct {
	in       *bufio.Reader
	out      io.Writer
	terminal bool
	fd       int
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.ErrOrStderr(),
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && is_interactive(f.Fd()) {
		p.terminal = true
		p.fd = int(f.Fd())
	}
	return p
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	s, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) password(label string) (string, error) {
	if !p.terminal {
		return p.line(label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	data, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// valueOrPrompt returns the flag value, asking for it when unset.
func (p *prompter) valueOrPrompt(cmd *cobra.Command, flag, label string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	return p.line(label)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	p := newPrompter(cmd)
	username, err := p.valueOrPrompt(cmd, "username", "Username")
	if err != nil {
		return err
	}
	password, err := p.password("Password")
	if err != nil {
		return err
	}

	s, err := a.session.Login(commandContext(cmd), username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", s.User.Username)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	p := newPrompter(cmd)
	username, err := p.valueOrPrompt(cmd, "username", "Username")
	if err != nil {
		return err
	}
	email, err := p.valueOrPrompt(cmd, "email", "Email")
	if err != nil {
		return err
	}
	password, err := p.password("Password")
	if err != nil {
		return err
	}
	if p.terminal {
		confirm, err := p.password("Confirm password")
		if err != nil {
			return err
		}
		if confirm != password {
			return fmt.Errorf("passwords do not match")
		}
	}

	s, err := a.session.Register(commandContext(cmd), username, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s\n", s.User.Username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.requireSession(commandContext(cmd))
	if err != nil {
		return err
	}
	u := s.User
	fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", u.Username, u.Email)
	if u.IsAdmin {
		fmt.Fprintln(cmd.OutOrStdout(), "role: admin")
	}
	if u.CreatedAt != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "member since %s\n", u.CreatedAt)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "server %s\n", a.cfg.ApiBase)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
