package botlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerRoutesTiers(t *testing.T) {
	base := t.TempDir()
	l, err := New(base, 7)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	l.Info("buy order %d placed at %.2f", 42, 1999.2)
	l.Debug("status poll for order %d", 42)
	l.Warning("no matching open trade")
	l.Close()

	trades := readFile(t, filepath.Join(base, "bot_7", "trades.log"))
	debug := readFile(t, filepath.Join(base, "bot_7", "debug.log"))

	if !strings.Contains(trades, "[INFO] buy order 42 placed at 1999.20") {
		t.Errorf("trades.log missing info line: %q", trades)
	}
	if strings.Contains(trades, "status poll") {
		t.Error("debug line leaked into trades.log")
	}
	if !strings.Contains(debug, "[DEBUG] status poll for order 42") {
		t.Errorf("debug.log missing debug line: %q", debug)
	}
	if !strings.Contains(debug, "[WARNING] no matching open trade") {
		t.Errorf("debug.log missing warning: %q", debug)
	}
}

func TestLoggerTimestampsAreRFC3339(t *testing.T) {
	base := t.TempDir()
	l, err := New(base, 1)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Info("hello")
	l.Close()

	content := readFile(t, filepath.Join(base, "bot_1", "trades.log"))
	line := strings.TrimSpace(strings.Split(content, "\n")[0])
	stamp := strings.SplitN(line, " ", 2)[0]
	if _, err := time.Parse(time.RFC3339Nano, stamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", stamp, err)
	}
}

func TestFatalBypassesQueue(t *testing.T) {
	base := t.TempDir()
	l, err := New(base, 2)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer l.Close()

	ferr := l.Fatal("filter violation on %s", "ETHUSDT")
	if ferr == nil || !strings.Contains(ferr.Error(), "filter violation on ETHUSDT") {
		t.Errorf("Fatal should return the message as error, got %v", ferr)
	}

	// Synchronous write: visible before Close.
	content := readFile(t, filepath.Join(base, "bot_2", "debug.log"))
	if !strings.Contains(content, "[FATAL] filter violation on ETHUSDT") {
		t.Errorf("fatal line not written synchronously: %q", content)
	}
}

func TestCloseDrainsQueues(t *testing.T) {
	base := t.TempDir()
	l, err := New(base, 3)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	for i := 0; i < 500; i++ {
		l.Debug("line %d", i)
	}
	l.Close()

	content := readFile(t, filepath.Join(base, "bot_3", "debug.log"))
	if got := strings.Count(content, "\n"); got != 500 {
		t.Errorf("expected 500 drained lines, got %d", got)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}
