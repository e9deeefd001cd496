package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func sessionPath(principal string) string {
	return "/api/v1/sessions/" + url.PathEscape(principal)
}

func newConnectCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "connect <principal>",
		Short: "Announce a new connection and see whether it resumes a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"principal": args[0],
				"address":   address,
			}
			var result Decision

			if err := client.Post(cmd.Context(), "/api/v1/connections", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Client network address")

	return cmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <principal>",
		Short: "Drop a connection without ending its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), "/api/v1/connections/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage(fmt.Sprintf("Disconnected %s", args[0]))
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	var address, credential string

	cmd := &cobra.Command{
		Use:   "login <principal>",
		Short: "Present a credential and take the session lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := newCredentialReader(cmd).read(credential, "Password")
			if err != nil {
				return err
			}

			req := map[string]string{
				"principal":  args[0],
				"address":    address,
				"credential": secret,
			}
			var result Decision

			if err := client.Post(cmd.Context(), "/api/v1/logins", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Client network address")
	cmd.Flags().StringVar(&credential, "credential", "", "Password (read from stdin if omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <principal>",
		Short: "End the principal's session on every server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), sessionPath(args[0]), nil); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage(fmt.Sprintf("Logged out %s", args[0]))
			return nil
		},
	}
}

func newTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <principal>",
		Short: "Extend the principal's session lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Decision

			if err := client.Post(cmd.Context(), sessionPath(args[0])+"/touch", nil, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <principal>",
		Short: "Show the server's view of a principal's connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Status

			if err := client.Get(cmd.Context(), sessionPath(args[0]), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}
}
