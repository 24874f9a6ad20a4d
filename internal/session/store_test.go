package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	tgsession "github.com/gotd/td/session"
)

func testStoreLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestStore(t *testing.T, path, name string) *SQLiteStorage {
	t.Helper()
	s, err := Open(path, name, testStoreLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadSession_NotFound(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "a.session"), "a")
	_, err := s.LoadSession(context.Background())
	if !errors.Is(err, tgsession.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "a.session"), "a")

	if err := s.StoreSession(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreSession(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	data, err := s.LoadSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("expected latest session, got %s", data)
	}
}

func TestSessionsAreKeyedByName(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.session")

	a := openTestStore(t, path, "a")
	if err := a.StoreSession(ctx, []byte("alpha")); err != nil {
		t.Fatal(err)
	}
	a.Close()

	b := openTestStore(t, path, "b")
	if _, err := b.LoadSession(ctx); !errors.Is(err, tgsession.ErrNotFound) {
		t.Fatalf("session b should be empty, got %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "x.session")

	s := openTestStore(t, path, "x")
	if err := s.StoreSession(ctx, []byte("data")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened := openTestStore(t, path, "x")
	data, err := reopened.LoadSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Errorf("unexpected data %q", data)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "d.session"), "d")
	if err := s.StoreSession(ctx, []byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadSession(ctx); !errors.Is(err, tgsession.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
