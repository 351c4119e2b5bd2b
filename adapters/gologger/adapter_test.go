package gologger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap/zapcore"

	"github.com/goliatone/go-ingress/core"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode log line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestProviderNamesLoggersAndResolvesThroughGlog(t *testing.T) {
	var buf bytes.Buffer
	provider := NewProvider(NewJSONLogger(&buf, "info"))

	resolvedProvider, resolved := glog.Resolve("ingress", provider, nil)
	if resolvedProvider == nil || resolved == nil {
		t.Fatalf("expected provider and logger from resolve")
	}
	resolved.Info("hello", "k", "v")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if lines[0]["msg"] != "hello" || lines[0]["k"] != "v" || lines[0]["logger"] != "ingress" {
		t.Fatalf("unexpected line: %#v", lines[0])
	}
}

func TestLevelsFilterAndRename(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "debug")
	logger.Trace("dropped")
	logger.Debug("kept")
	logger.Fatal("loud")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected trace filtered out, got %d lines", len(lines))
	}
	if lines[0]["level"] != "DEBUG" || lines[1]["level"] != "FATAL" {
		t.Fatalf("unexpected levels: %#v", lines)
	}
}

func TestObserverUsesFieldsLogger(t *testing.T) {
	var buf bytes.Buffer
	observer := core.NewObserver(NewJSONLogger(&buf, "info"), nil)
	observer.Warn(context.Background(), "ingress accept rejected", map[string]any{
		"stage":     "fund",
		"thread_id": "T1",
	})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	line := lines[0]
	if line["level"] != "WARN" || line["stage"] != "fund" || line["thread_id"] != "T1" {
		t.Fatalf("unexpected observer line: %#v", line)
	}
}

func TestWithContextKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info").WithFields(map[string]any{"request_id": "r-1"})
	logger.WithContext(context.Background()).Error("boom", "error", errors.New("x").Error())

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["request_id"] != "r-1" || lines[0]["error"] != "x" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"TRACE":   LevelTrace,
		"debug":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   LevelFatal,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceLevelAndOddArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "trace")
	logger.Trace("deep", "attempt", 2, "dangling")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if lines[0]["level"] != "TRACE" || lines[0]["attempt"] != float64(2) || lines[0]["!BADKEY"] != "dangling" {
		t.Fatalf("unexpected trace line: %#v", lines[0])
	}
	if _, ok := lines[0]["time"]; !ok {
		t.Fatalf("expected time key, got %#v", lines[0])
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored")
	if logger.WithContext(context.Background()) == nil {
		t.Fatalf("expected nop logger")
	}
	var provider *Provider
	if provider.GetLogger("x") == nil {
		t.Fatalf("expected nop logger from nil provider")
	}
}
