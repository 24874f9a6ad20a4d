package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"msgfilter/internal/config"
	"msgfilter/internal/session"

	tgsession "github.com/gotd/td/session"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay configuration",
		Long: `Verifies that the environment, filter patterns, session database and log
file are correctly set up, without connecting to Telegram. Reports
pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("msgfilter doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Env file
			path := envFile
			if path == "" {
				path = config.DefaultEnvFile
			}
			if _, err := os.Stat(path); err != nil {
				printWarn("Env file", fmt.Sprintf("%s not found (using process environment only)", path))
				warned++
			} else {
				printPass("Env file", path)
				passed++
			}

			// 2. Required settings
			cfg, err := config.Load(os.LookupEnv)
			if err != nil {
				printFail("Configuration", err.Error())
				failed++
				fmt.Printf("\nRun 'msgfilter init' to create a .env file.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Configuration", fmt.Sprintf("source %d -> destination %d", cfg.SourceChatID, cfg.DestinationChatID))
			passed++

			if cfg.SourceChatID == cfg.DestinationChatID {
				printWarn("Chats", "source and destination are the same chat")
				warned++
			}

			// 3. Patterns
			if len(cfg.Patterns) == 0 {
				printWarn("Filter patterns", "none configured; nothing will be forwarded")
				warned++
			} else {
				printPass("Filter patterns", fmt.Sprintf("%d loaded", len(cfg.Patterns)))
				passed++
			}

			// 4. Transport and session
			if cfg.UseBotAPI() {
				printPass("Transport", "Bot API (BOT_TOKEN set)")
				passed++
			} else {
				printPass("Transport", "MTProto user client")
				passed++
				stored, err := checkSession(cfg)
				switch {
				case err != nil:
					printFail("Session", err.Error())
					failed++
				case stored:
					printPass("Session", cfg.SessionPath())
					passed++
				case cfg.Phone == "":
					printFail("Session", "no stored session and TG_PHONE is not set")
					failed++
				default:
					printWarn("Session", "no stored session; first run will ask for a login code")
					warned++
				}
			}

			// 5. Log file writable
			if cfg.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running msgfilter.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmsgfilter should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! msgfilter is ready to run.\n")
			}
			return nil
		},
	}
}

// checkSession opens the session database and reports whether a login is stored.
func checkSession(cfg *config.Config) (bool, error) {
	store, err := session.Open(cfg.SessionPath(), cfg.SessionName, logger)
	if err != nil {
		return false, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.LoadSession(ctx); err != nil {
		if errors.Is(err, tgsession.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
