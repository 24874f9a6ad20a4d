package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"msgfilter/internal/bus"
	"msgfilter/internal/channel"
	"msgfilter/internal/config"
	"msgfilter/internal/domain"
	"msgfilter/internal/relay"
	"msgfilter/internal/session"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	version   = "0.1.0"
	logger    *slog.Logger
	logCloser io.Closer
	envFile   string // overridable via --env-file flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "msgfilter",
		Short: "Forward Telegram messages that match a pattern",
		Long: `msgfilter watches one Telegram chat and forwards every message whose text
matches one of the FILTER_PATTERNS templates to a destination chat.
Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		RunE:              runRelay,
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default: ./.env when present)")

	root.AddCommand(runCmd())
	root.AddCommand(patternsCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(initCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	err := root.Execute()
	if err != nil {
		logger.Error("fatal", "err", err)
	}
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// setup loads the env file and replaces the bootstrap logger with one that
// writes to both stderr and LOG_FILE.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	defaults := config.Defaults()
	logFile := envOr(config.EnvLogFile, defaults.LogFile)
	level, err := config.ParseLogLevel(envOr(config.EnvLogLevel, defaults.LogLevel))
	if err != nil {
		logger.Warn("falling back to info log level", "err", err)
	}

	l, closer, err := newLogger(config.ExpandPath(logFile), level)
	if err != nil {
		logger.Warn("cannot open log file, logging to stderr only", "path", logFile, "err", err)
		return nil
	}
	logger, logCloser = l, closer
	return nil
}

func newLogger(path string, level slog.Level) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: level}
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, f), opts)), f, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (default command)",
		Long:  "Connects to Telegram and forwards matching messages until interrupted. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("msgfilter", version)
		},
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	// Configuration errors are fatal and reported before any network activity.
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		return err
	}

	logger.Info("starting message filter bot", "version", version)
	logger.Info("source chat", "id", cfg.SourceChatID)
	logger.Info("destination chat", "id", cfg.DestinationChatID)
	logger.Debug("configuration", "config", config.Sanitize(cfg))
	relay.LogPatterns(logger, cfg.Patterns)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, cleanup, err := newTransport(cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer cleanup()

	messageBus := bus.New(100, logger.With("component", "bus"))
	r := relay.New(relay.Config{
		SourceChatID:      cfg.SourceChatID,
		DestinationChatID: cfg.DestinationChatID,
		Patterns:          cfg.Patterns,
		Bus:               messageBus,
		Logger:            logger.With("component", "relay"),
	})

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		r.Run(ctx)
	}()

	logger.Info("transport starting", "transport", ch.Name(), "session", cfg.SessionName)
	startErr := ch.Start(ctx, messageBus)
	if startErr != nil {
		logger.Error("error starting bot", "transport", ch.Name(), "err", startErr)
	}

	logger.Info("shutting down...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	go func() {
		ch.Stop()
		messageBus.Close()
	}()

	select {
	case <-relayDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
	}

	if startErr != nil {
		return fmt.Errorf("transport %s: %w", ch.Name(), startErr)
	}
	return nil
}

// newTransport picks the Bot API when BOT_TOKEN is set and the MTProto user
// client otherwise. The returned cleanup releases the session store.
func newTransport(cfg *config.Config) (domain.Channel, func(), error) {
	if cfg.UseBotAPI() {
		return channel.NewTelegram(channel.TelegramConfig{
			Token:  cfg.BotToken,
			Logger: logger.With("component", "telegram-bot"),
		}), func() {}, nil
	}

	store, err := session.Open(cfg.SessionPath(), cfg.SessionName, logger.With("component", "session"))
	if err != nil {
		return nil, nil, err
	}
	ch := channel.NewMTProto(channel.MTProtoConfig{
		APIID:      cfg.APIID,
		APIHash:    cfg.APIHash,
		Phone:      cfg.Phone,
		Password:   cfg.Password,
		Storage:    store,
		CodePrompt: terminalCodePrompt,
		Logger:     logger.With("component", "telegram"),
	})
	return ch, func() { store.Close() }, nil
}

// terminalCodePrompt reads the login code from stdin on first login.
func terminalCodePrompt(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Enter the login code Telegram sent you: ")
	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		done <- result{strings.TrimSpace(line), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil && res.code == "" {
			return "", fmt.Errorf("read login code: %w", res.err)
		}
		return res.code, nil
	}
}
