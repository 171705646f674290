package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func runChat(cmd *cobra.Command, args []string) error {
	if !is_interactive(os.Stdin.Fd()) || !is_interactive(os.Stdout.Fd()) {
		return errors.New("chat needs an interactive terminal; use `llm-council ask` instead")
	}
	// The TUI owns the terminal, so logs go to a file.
	a, err := appFromCommand(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	p := tea.NewProgram(newChatModel(ctx, a, id), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(chatModel); ok && m.stream != nil {
		m.stream.Close()
	}
	return nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "llm-council",
		Short:         "Terminal client for an LLM Council backend",
		Long:          "Ask a council of models, watch them review each other, and read the chairman's final answer.",
		Args:          cobra.NoArgs,
		RunE:          runChat,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringP("server", "s", "", "Server profile from config.yaml")
	pf.StringP("api-base", "b", "", "Backend base URL (env LLM_COUNCIL_API_BASE, default "+defaultAPIBase+")")
	pf.Int("timeout", defaultTimeoutSec, "Request timeout in seconds")
	pf.Bool("no-markdown", false, "Print raw text instead of rendered markdown")
	pf.BoolP("verbose", "v", false, "http & debug logging")

	chatCmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Interactive council chat",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runChat,
	}

	askCmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask the council a single question",
		Long:  "Ask a question and print each stage as it completes. Reads the question from stdin when no arguments are given.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runAsk,
	}
	askCmd.Flags().StringP("conversation", "C", "", "Continue an existing conversation")
	askCmd.Flags().String("pdf", "", "Attach a PDF to the question")
	askCmd.Flags().Bool("sync", false, "Wait for the whole turn instead of streaming")
	askCmd.Flags().Bool("copy", false, "Copy the final answer to the clipboard")
	askCmd.Flags().Bool("full", false, "Show every member's answer and evaluation")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	loginCmd.Flags().StringP("username", "u", "", "Username")

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE:  runRegister,
	}
	registerCmd.Flags().StringP("username", "u", "", "Username")
	registerCmd.Flags().String("email", "", "Email address")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}
	listCmd.Flags().Bool("local", false, "List conversations from the local archive")
	listCmd.Flags().IntP("limit", "n", 50, "Maximum number of archived conversations")

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty conversation and print its id",
		Args:  cobra.NoArgs,
		RunE:  runNew,
	}

	showCmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().Bool("local", false, "Read from the local archive; accepts an id prefix")
	showCmd.Flags().Bool("full", false, "Show every member's answer and evaluation")

	rmCmd := &cobra.Command{
		Use:   "rm <conversation-id>...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRemove,
	}

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the local archive",
		Long:  "Search archived turns. Use 'user:term', 'final:term' or 'council:term' to filter by field.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().IntP("limit", "n", 20, "Maximum number of results")

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, backend and local search",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}

	rootCmd.AddCommand(chatCmd, askCmd, loginCmd, registerCmd, logoutCmd, whoamiCmd,
		listCmd, newCmd, showCmd, rmCmd, searchCmd, doctorCmd, newAdminCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), describeError(err))
		stop()
		os.Exit(1)
	}
}
