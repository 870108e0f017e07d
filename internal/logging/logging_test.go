package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	defer func() {
		SetLevel(LevelInfo)
		SetOutput(nil)
	}()

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("debug should be filtered at warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn should pass at warn level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("error should pass at warn level")
	}
}

func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	defer SetOutput(nil)

	Info("copying %d rows", 42)

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("expected [INFO] in output: %s", output)
	}
	if !strings.Contains(output, "copying 42 rows") {
		t.Errorf("expected formatted message in output: %s", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("log line should end with newline")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrintBypassesLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelError)
	defer func() {
		SetLevel(LevelInfo)
		SetOutput(nil)
	}()

	Print("summary line\n")

	if !strings.Contains(buf.String(), "summary line") {
		t.Error("Print should bypass the level filter")
	}
}
