package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "One-time code commands",
		Long: `One-time codes link a game connection and the website.

A login code is shown to a player in game; the website claims it to learn
who the player is. A web code is issued through the website; the player
types it in game to authenticate without a password. Either kind works once.`,
	}

	cmd.AddCommand(newCodeLoginCmd())
	cmd.AddCommand(newCodeClaimCmd())
	cmd.AddCommand(newCodeWebCmd())
	cmd.AddCommand(newCodeRedeemCmd())

	return cmd
}

func issueCode(cmd *cobra.Command, path, principal string) error {
	req := map[string]string{"principal": principal}
	var result Code

	if err := client.Post(cmd.Context(), path, req, &result); err != nil {
		return err
	}

	out := NewOutput(cfg.Output, cmd.OutOrStdout())
	out.Print(result)
	return nil
}

func newCodeLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <principal>",
		Short: "Issue a login code for the website, reusing a live one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueCode(cmd, "/api/v1/login-codes", args[0])
		},
	}
}

func newCodeWebCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "web <principal>",
		Short: "Issue a web code to be typed in game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueCode(cmd, "/api/v1/web-codes", args[0])
		},
	}
}

func newCodeClaimCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "claim <code>",
		Short: "Consume a login code and show who it was issued to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"code":    args[0],
				"address": address,
			}
			var result Account

			if err := client.Post(cmd.Context(), "/api/v1/login-codes/claim", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage(fmt.Sprintf("Code belongs to %s", result.Principal))
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Website client address")

	return cmd
}

func newCodeRedeemCmd() *cobra.Command {
	var address, code string

	cmd := &cobra.Command{
		Use:   "redeem <principal>",
		Short: "Authenticate a connection with a web code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := newCredentialReader(cmd).read(code, "Code")
			if err != nil {
				return err
			}

			req := map[string]string{
				"principal": args[0],
				"address":   address,
				"code":      secret,
			}
			var result Decision

			if err := client.Post(cmd.Context(), "/api/v1/web-codes/redeem", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Client network address")
	cmd.Flags().StringVar(&code, "code", "", "Web code (read from stdin if omitted)")

	return cmd
}
