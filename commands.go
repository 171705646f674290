package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kir-gadjello/llm-council/council"
	"github.com/kir-gadjello/llm-council/history"
)

func runList(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if local, _ := cmd.Flags().GetBool("local"); local {
		return listArchived(cmd, a)
	}

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	convs, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMESSAGES\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, shortTime(c.CreatedAt), c.MessageCount, c.Title)
	}
	return w.Flush()
}

func listArchived(cmd *cobra.Command, a *app) error {
	if a.archive == nil {
		return errors.New("local history is unavailable")
	}
	limit, _ := cmd.Flags().GetInt("limit")
	summaries, err := a.archive.ListRecent(limit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Local history is empty.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTURNS\tSERVER\tTITLE")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Turns, s.Server, s.Title)
	}
	return w.Flush()
}

// shortTime trims backend ISO timestamps for tables.
func shortTime(iso string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.Format("2006-01-02 15:04")
		}
	}
	return iso
}

func runNew(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	conv, err := a.store.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	full, _ := cmd.Flags().GetBool("full")
	opts := renderOptions{
		Markdown: a.cfg.Markdown && isTerminal(cmd.OutOrStdout()),
		Width:    terminalWidth(os.Stdout.Fd(), 100),
		Full:     full,
	}

	if local, _ := cmd.Flags().GetBool("local"); local {
		return showArchived(cmd, a, args[0], opts)
	}

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	conv, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", statusStyle.Render(conv.Title))
	fmt.Fprint(cmd.OutOrStdout(), formatMessageLog(conv.Messages(), opts, ""))
	return nil
}

func showArchived(cmd *cobra.Command, a *app, partial string, opts renderOptions) error {
	if a.archive == nil {
		return errors.New("local history is unavailable")
	}
	id, err := a.archive.ResolveConversationID(partial)
	if err != nil {
		return err
	}
	turns, err := a.archive.Turns(id)
	if err != nil {
		return err
	}

	var msgs []council.Message
	title := id
	for _, t := range turns {
		if t.Title != "" {
			title = t.Title
		}
		msgs = append(msgs, council.UserMessage(t.Prompt), council.CouncilMessage(t.Turn))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", statusStyle.Render(title))
	fmt.Fprint(cmd.OutOrStdout(), formatMessageLog(msgs, opts, ""))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	for _, id := range args {
		if err := a.store.Remove(ctx, id); err != nil {
			return err
		}
		if a.archive != nil {
			if err := a.archive.Forget(id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to forget %s locally: %v\n", id, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.archive == nil {
		return fmt.Errorf("history manager not initialized")
	}
	limit, _ := cmd.Flags().GetInt("limit")
	results, err := a.archive.Search(args[0], limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matches found.")
		return nil
	}
	for _, r := range results {
		id := r.ConversationID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\033[1;34m%s\033[0m [%s] %s\n    %s\n",
			r.Timestamp.Format("2006-01-02 15:04"), id, r.Title, r.Preview)
	}
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "LLM Council Doctor")
	fmt.Fprintln(out, "==================")

	if history.CheckFTS() {
		fmt.Fprintln(out, "✅ SQLite FTS5   : Enabled (Search Available)")
	} else {
		fmt.Fprintln(out, "❌ SQLite FTS5   : Disabled")
		fmt.Fprintln(out, "   -> FIX: Build with '-tags sqlite_fts5'")
	}

	path := configPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "✅ Configuration : Found (%s)\n", path)
	} else {
		fmt.Fprintf(out, "⚠️  Configuration : Missing (%s)\n", path)
	}

	a, err := appFromCommand(cmd, false)
	if err != nil {
		fmt.Fprintf(out, "❌ Configuration : %v\n", err)
		return nil
	}
	defer a.Close()
	ctx := commandContext(cmd)

	if err := a.store.Health(ctx); err != nil {
		fmt.Fprintf(out, "❌ Backend       : %s (%s)\n", describeError(err), a.cfg.ApiBase)
		return nil
	}
	fmt.Fprintf(out, "✅ Backend       : Reachable (%s)\n", a.cfg.ApiBase)

	s, err := a.session.Restore(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "❌ Session       : %s\n", describeError(err))
	case s.Authenticated():
		fmt.Fprintf(out, "✅ Session       : Logged in as %s\n", s.User.Username)
	default:
		fmt.Fprintln(out, "⚠️  Session       : Not logged in (run `llm-council login`)")
	}
	return nil
}
