// ABOUTME: Entry point for mealdesk-chat terminal client
// ABOUTME: Wires a chat session to the gateway over REST and WebSocket

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/mealdesk/internal/chat"
	"github.com/2389/mealdesk/internal/client"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath string
	gatewayURL string
	token      string
	agentFor   string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "mealdesk-chat",
		Short: "Chat with mealdesk support from the terminal",
		Long: `A terminal client for mealdesk support chat.

Customers join their own room. Agents pass --agent-for to join a
customer's room, or switch rooms later with /customer <id>.

Quick Start:
  mealdesk-chat --token $TOKEN                    # Customer self-service
  mealdesk-chat --token $TOKEN --agent-for cust-1 # Agent answering cust-1`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", defaultConfigPath(), "Path to TOML config file")
	cmd.Flags().StringVar(&opts.gatewayURL, "gateway", "", "Gateway base URL (overrides gateway.url)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Access token (overrides auth.token)")
	cmd.Flags().StringVar(&opts.agentFor, "agent-for", "", "Join as an agent serving this customer ID")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *options) (*Config, error) {
	cfg, err := Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.gatewayURL != "" {
		cfg.Gateway.URL = opts.gatewayURL
	}
	if opts.token != "" {
		cfg.Auth.Token = opts.token
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging.Level)

	identity, err := client.NewTokenIdentity(cfg.Auth.Token)
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	mode := chat.SelfService()
	if opts.agentFor != "" {
		mode = chat.AgentFor(opts.agentFor)
	}

	ui := newTerminal(os.Stdout, mode)
	session := chat.NewSession(chat.Options{
		Identity: identity,
		Store:    client.NewRESTStore(cfg.Gateway.URL, identity, nil),
		Channels: client.NewDialer(client.DialerConfig{
			BaseURL:          cfg.Gateway.URL,
			Tokens:           identity,
			SubscribeTimeout: cfg.Session.SubscribeTimeout.Duration,
			Logger:           logger,
		}),
		Mode:     mode,
		Config:   cfg.ChatConfig(),
		Logger:   logger,
		Listener: ui.onChange,
	})
	defer session.Close()

	ui.printBanner(cfg.Gateway.URL, mode)

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	return ui.loop(ctx, os.Stdin, session)
}
