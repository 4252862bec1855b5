package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestInitLoggerWritesToFile(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop().Sugar() })
	path := filepath.Join(t.TempDir(), "arena.log")
	if err := InitLogger(path, "info"); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	Log.Debugw("hidden below info")
	Log.Infow("room created", "room", "r1")
	SyncLogger()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "room created") || !strings.Contains(out, "r1") {
		t.Fatalf("log file missing info line: %q", out)
	}
	if strings.Contains(out, "hidden below info") {
		t.Fatalf("debug line written at info level: %q", out)
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop().Sugar() })
	if err := InitLogger(filepath.Join(t.TempDir(), "arena.log"), "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
