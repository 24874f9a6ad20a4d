package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"msgfilter/internal/config"
)

func TestRunRelay_MissingConfigFailsBeforeTransport(t *testing.T) {
	sessionDir := t.TempDir()
	t.Setenv("API_ID", "")
	t.Setenv("API_HASH", "hash")
	t.Setenv("SOURCE_CHAT_ID", "-1001")
	t.Setenv("DESTINATION_CHAT_ID", "-1002")
	t.Setenv("SESSION_DIR", sessionDir)

	err := runRelay(runCmd(), nil)
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(cerr.Missing) != 1 || cerr.Missing[0] != "API_ID" {
		t.Errorf("expected API_ID missing, got %v", cerr.Missing)
	}

	entries, _ := os.ReadDir(sessionDir)
	if len(entries) != 0 {
		t.Errorf("transport must not be started; found %d files in session dir", len(entries))
	}
}

func TestRunRelay_InvalidInteger(t *testing.T) {
	t.Setenv("API_ID", "12")
	t.Setenv("API_HASH", "hash")
	t.Setenv("SOURCE_CHAT_ID", "not-a-number")
	t.Setenv("DESTINATION_CHAT_ID", "-1002")

	err := runRelay(runCmd(), nil)
	if err == nil || !strings.Contains(err.Error(), "SOURCE_CHAT_ID") {
		t.Fatalf("expected SOURCE_CHAT_ID error, got %v", err)
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message_filter.log")
	l, closer, err := newLogger(path, slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("match found", "message_id", 7)
	l.Debug("hidden")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "match found") || !strings.Contains(string(data), "message_id=7") {
		t.Errorf("unexpected log contents %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug line should be filtered at info level")
	}
}

func TestNewLogger_NoFile(t *testing.T) {
	l, closer, err := newLogger("", slog.LevelInfo)
	if err != nil || l == nil || closer != nil {
		t.Fatalf("unexpected %v %v %v", l, closer, err)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("MSGFILTER_TEST_ENVOR", "  value ")
	if got := envOr("MSGFILTER_TEST_ENVOR", "def"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
	t.Setenv("MSGFILTER_TEST_ENVOR", " ")
	if got := envOr("MSGFILTER_TEST_ENVOR", "def"); got != "def" {
		t.Errorf("expected default, got %q", got)
	}
}
