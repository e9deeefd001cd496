package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "gatectl",
		Short: "CLI tool for the login gate host API",
		Long: `gatectl drives a logingate server over its host API.

It covers account management (register, change password, remove) and the
per-connection flow a game host runs: connect, login, touch, logout and
status. One-time codes link the game and a website: "code login" and
"code claim" hand a player to the website, "code web" and "code redeem"
bring them back. Credentials and codes are read from stdin unless given
as flags.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load host key from file if not provided via flag/env
			if err := cfg.LoadHostKey(); err != nil {
				return err
			}

			// Create HTTP client
			client = NewClient(cfg.ServerURL, cfg.HostKey)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: LOGINGATE_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.HostKey, "host-key", cfg.HostKey, "Host key (env: LOGINGATE_HOST_KEY)")
	rootCmd.PersistentFlags().StringVar(&cfg.HostKeyFile, "host-key-file", cfg.HostKeyFile, "Host key file path (env: LOGINGATE_HOST_KEY_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newAccountCmd())
	rootCmd.AddCommand(newCodeCmd())
	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newDisconnectCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newTouchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
