package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("warn", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("warn should be enabled")
	}

	dev, err := New("debug", true)
	if err != nil {
		t.Fatalf("New development: %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be enabled")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestComponentNil(t *testing.T) {
	l := Component(nil, "x")
	if l == nil {
		t.Fatal("expected a no-op logger")
	}
	l.Info("discarded")
	Component(zap.NewNop(), "y").Warn("also discarded")
}
