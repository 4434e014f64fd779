package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginPassword    string
	registerPassword string
	registerName     string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, registerCmd, whoamiCmd)

	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prompted when omitted)")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "password (prompted when omitted)")
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name")
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and remember the session",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		password := loginPassword
		if password == "" {
			p, err := prompt(cmd, "Password: ")
			if err != nil {
				return err
			}
			password = p
		}

		s, err := a.client().Login(cmd.Context(), args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := a.session.Login(cmd.Context(), *s.User, s.Token); err != nil {
			return err
		}
		a.logger.Info("logged in", "key", s.User.Key(), "type", s.User.Type)
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", s.User.Name, s.User.Email)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	}),
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create a customer account",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		password := registerPassword
		if password == "" {
			p, err := prompt(cmd, "Choose a password: ")
			if err != nil {
				return err
			}
			password = p
		}
		u, err := a.client().Register(cmd.Context(), args[0], password, registerName)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s. Run 'finchat login %s' to start.\n", u.Email, u.Email)
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the saved session",
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.restore(cmd.Context()); err != nil {
			return err
		}
		u, err := a.session.User()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> role=%s server=%s\n", u.Name, u.Email, a.session.Role(), a.cfg.Server)
		return nil
	}),
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
