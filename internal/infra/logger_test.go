package infra

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", name, want, got)
		}
	}
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Dir = t.TempDir()
	cfg.Logging.Level = "debug"

	logger := NewLogger(cfg)
	logger.Debug("hello", slog.Int64("amount", 157))

	data, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, "auction.log"))
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected log output in file")
	}
}
