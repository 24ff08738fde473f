package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"aevrt/pkg/config"
)

func TestSetupLoggerStampsInitialFields(t *testing.T) {
	out := filepath.Join(t.TempDir(), "node.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: []string{out},
	}, zap.String("node", "node-7"))
	if err != nil {
		t.Fatalf("setup logger: %v", err)
	}
	logger.Info("heartbeat sent")
	_ = logger.Sync()

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(b)
	if !strings.Contains(line, `"node":"node-7"`) {
		t.Fatalf("initial field missing from entry: %s", line)
	}
	if !strings.Contains(line, `"logger":"aevrt"`) {
		t.Fatalf("logger name missing from entry: %s", line)
	}
	if !strings.Contains(line, "heartbeat sent") {
		t.Fatalf("message missing from entry: %s", line)
	}
}

func TestSetupLoggerLevelFiltering(t *testing.T) {
	out := filepath.Join(t.TempDir(), "node.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:   "warn",
		Format:  "json",
		Outputs: []string{out},
	})
	if err != nil {
		t.Fatalf("setup logger: %v", err)
	}
	logger.Info("too quiet")
	logger.Warn("loud enough")
	_ = logger.Sync()

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(b), "too quiet") {
		t.Fatal("info entry must be filtered at warn level")
	}
	if !strings.Contains(string(b), "loud enough") {
		t.Fatal("warn entry must pass")
	}
}
