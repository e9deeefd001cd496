package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account management commands",
	}

	cmd.AddCommand(newAccountRegisterCmd())
	cmd.AddCommand(newAccountPasswdCmd())
	cmd.AddCommand(newAccountRemoveCmd())

	return cmd
}

func newAccountRegisterCmd() *cobra.Command {
	var credential string

	cmd := &cobra.Command{
		Use:   "register <principal>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := newCredentialReader(cmd).read(credential, "Password")
			if err != nil {
				return err
			}

			req := map[string]string{
				"principal":  args[0],
				"credential": secret,
			}
			var result Account

			if err := client.Post(cmd.Context(), "/api/v1/accounts", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage(fmt.Sprintf("Registered %s", result.Principal))
			return nil
		},
	}

	cmd.Flags().StringVar(&credential, "credential", "", "Password (read from stdin if omitted)")

	return cmd
}

func newAccountPasswdCmd() *cobra.Command {
	var current, next string

	cmd := &cobra.Command{
		Use:   "passwd <principal>",
		Short: "Change an account's password",
		Long: `Change an account's password. Any live session for the account is
revoked cluster-wide. Without flags, the current and new passwords are
read from stdin in that order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := newCredentialReader(cmd)
			oldSecret, err := creds.read(current, "Current password")
			if err != nil {
				return err
			}
			newSecret, err := creds.read(next, "New password")
			if err != nil {
				return err
			}

			req := map[string]string{
				"current": oldSecret,
				"new":     newSecret,
			}
			if err := client.Put(cmd.Context(), "/api/v1/accounts/"+url.PathEscape(args[0])+"/password", req); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage("Password changed")
			return nil
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Current password")
	cmd.Flags().StringVar(&next, "new", "", "New password")

	return cmd
}

func newAccountRemoveCmd() *cobra.Command {
	var credential string

	cmd := &cobra.Command{
		Use:   "remove <principal>",
		Short: "Delete an account and end its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := newCredentialReader(cmd).read(credential, "Password")
			if err != nil {
				return err
			}

			req := map[string]string{"credential": secret}
			if err := client.Delete(cmd.Context(), "/api/v1/accounts/"+url.PathEscape(args[0]), req); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage(fmt.Sprintf("Removed %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&credential, "credential", "", "Password (read from stdin if omitted)")

	return cmd
}
