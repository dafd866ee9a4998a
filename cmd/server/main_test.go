package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestServe_InvalidConfigExitsNonZero(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	if code := serve(); code != 1 {
		t.Fatalf("exit code = %d; want 1", code)
	}
}

func TestServe_StartupFailureIsLoggedToFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "server.log")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("DB_PATH", filepath.Join(dir, "app.db"))
	t.Setenv("LOG_FILE", logFile)
	t.Setenv("USAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")

	if code := serve(); code != 1 {
		t.Fatalf("exit code = %d; want 1", code)
	}
	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"server stopped"`) {
		t.Fatalf("log file missing shutdown line: %s", raw)
	}
}
