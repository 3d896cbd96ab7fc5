package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := NewLogger(level)
	logger.console = buf
	return logger, buf
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := testLogger(LogLevelWarn)

	logger.Debugf("test", "should be dropped")
	logger.Infof("test", "should be dropped too")
	logger.Warnf("test", "warning kept")
	logger.Errorf("test", "error kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("messages above the level leaked: %q", out)
	}
	if !strings.Contains(out, "warning kept") || !strings.Contains(out, "error kept") {
		t.Errorf("messages at or below the level missing: %q", out)
	}
}

func TestLoggerSilentLevel(t *testing.T) {
	logger, buf := testLogger(LogLevelSilent)
	logger.Errorf("test", "even errors are silenced")
	if buf.Len() != 0 {
		t.Errorf("silent logger wrote output: %q", buf.String())
	}
}

func TestLoggerComponentTag(t *testing.T) {
	logger, buf := testLogger(LogLevelInfo)
	logger.Infof("chat", "peer %s connected", "10.0.0.5:1234")

	out := buf.String()
	if !strings.Contains(out, "chat:") {
		t.Errorf("component tag missing: %q", out)
	}
	if !strings.Contains(out, "peer 10.0.0.5:1234 connected") {
		t.Errorf("formatted message missing: %q", out)
	}
}

func TestLoggerFileOutput(t *testing.T) {
	logger, _ := testLogger(LogLevelInfo)
	path := filepath.Join(t.TempDir(), "qschat.log")
	if err := logger.SetFileOutput(path); err != nil {
		t.Fatalf("SetFileOutput: %v", err)
	}

	logger.Infof("test", "persisted line")
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted line") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestComponentLoggerSatisfiesChatInterface(t *testing.T) {
	logger, buf := testLogger(LogLevelDebug)
	cl := logger.Component("chat")

	cl.Debugf("d %d", 1)
	cl.Infof("i %d", 2)
	cl.Warnf("w %d", 3)
	cl.Errorf("e %d", 4)

	out := buf.String()
	for _, want := range []string{"d 1", "i 2", "w 3", "e 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}
