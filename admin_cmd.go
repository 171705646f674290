package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var errNotAdmin = errors.New("admin access required; log in as an admin user")

func newAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage user accounts (admin only)",
	}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE:  runAdminUsers,
	}

	userCmd := &cobra.Command{
		Use:   "user <user-id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminUser,
	}

	convsCmd := &cobra.Command{
		Use:   "conversations <user-id>",
		Short: "List a user's conversations",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminConversations,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <user-id>...",
		Short: "Delete users",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAdminRemove,
	}

	resetCmd := &cobra.Command{
		Use:   "reset-password <user-id>",
		Short: "Set a new password for a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminResetPassword,
	}

	adminCmd.AddCommand(usersCmd, userCmd, convsCmd, rmCmd, resetCmd)
	return adminCmd
}

// adminFromCommand wires the app and checks that the session is an admin's.
func adminFromCommand(cmd *cobra.Command) (*app, error) {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return nil, err
	}
	s, err := a.requireSession(commandContext(cmd))
	if err != nil {
		a.Close()
		return nil, err
	}
	if !s.User.IsAdmin {
		a.Close()
		return nil, errNotAdmin
	}
	return a, nil
}

func runAdminUsers(cmd *cobra.Command, args []string) error {
	a, err := adminFromCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.admin.Users(commandContext(cmd))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tCREATED\tSTATUS")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, shortTime(u.CreatedAt), accountStatus(u.IsAdmin, u.Active()))
	}
	return w.Flush()
}

func accountStatus(admin, active bool) string {
	switch {
	case admin:
		return "admin"
	case !active:
		return "inactive"
	default:
		return "active"
	}
}

func runAdminUser(cmd *cobra.Command, args []string) error {
	a, err := adminFromCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.admin.User(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s>\n", u.Username, u.Email)
	fmt.Fprintf(out, "id      %s\n", u.ID)
	fmt.Fprintf(out, "status  %s\n", accountStatus(u.IsAdmin, u.Active()))
	if u.CreatedAt != "" {
		fmt.Fprintf(out, "created %s\n", shortTime(u.CreatedAt))
	}
	return nil
}

func runAdminConversations(cmd *cobra.Command, args []string) error {
	a, err := adminFromCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	convs, err := a.admin.Conversations(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No conversations for %s.\n", args[0])
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMESSAGES\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, shortTime(c.CreatedAt), c.MessageCount, c.Title)
	}
	return w.Flush()
}

func runAdminRemove(cmd *cobra.Command, args []string) error {
	a, err := adminFromCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range args {
		if err := a.admin.DeleteUser(commandContext(cmd), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %s\n", id)
	}
	return nil
}

func runAdminResetPassword(cmd *cobra.Command, args []string) error {
	a, err := adminFromCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p := newPrompter(cmd)
	password, err := p.password("New password")
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password must not be empty")
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

	if err := a.admin.ResetPassword(commandContext(cmd), args[0], password); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password reset for %s\n", args[0])
	return nil
}
