package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if err := Setup(LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Setup(LogConfig{Level: "debug", Format: "json", Output: path}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = Setup(DefaultConfig()) })

	l := WithComponent("returns")
	l.Info().Str("invoice_id", "INV-100").Msg("loaded")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	if !strings.Contains(line, `"component":"returns"`) || !strings.Contains(line, `"invoice_id":"INV-100"`) {
		t.Fatalf("unexpected log line %q", line)
	}
}
