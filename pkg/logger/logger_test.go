package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "swarm.log")
	if err := Setup("debug", path); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer Setup("", "")

	Sugar.Debugf("[Test] hello: k=%d", 1)
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "DEBUG") || !strings.Contains(string(data), "[Test] hello: k=1") {
		t.Errorf("log file = %q", data)
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if err := Setup("loud", ""); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
