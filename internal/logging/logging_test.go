package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wgpanel.log")
	logger, err := New(Options{Level: "warn", Path: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", zap.String("group_id", "g1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) || !strings.Contains(out, `"group_id":"g1"`) {
		t.Fatalf("expected JSON warn line, got %s", out)
	}
}

func TestVerboseForcesDebug(t *testing.T) {
	logger, err := New(Options{Level: "error", Path: filepath.Join(t.TempDir(), "x.log"), Verbose: true})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level when verbose")
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	lvl, err := ParseLevel("WARNING")
	if err != nil || lvl != zapcore.WarnLevel {
		t.Fatalf("expected warn, got %v %v", lvl, err)
	}
}
