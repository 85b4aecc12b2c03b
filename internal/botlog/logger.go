// Package botlog is the per-bot file logger. Each bot gets two append-only
// files under logs/bot_<id>/: trades.log for the info tier and debug.log
// for everything else. Writes go through bounded queues drained by
// background goroutines so the strategy loop never blocks on disk.
package botlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	queueSize  = 1000
	flushBatch = 100
)

type entry struct {
	level string
	msg   string
	at    time.Time
}

// Logger writes per-bot trade and debug logs asynchronously.
type Logger struct {
	botID     int64
	dir       string
	infoQueue chan entry
	dbgQueue  chan entry

	tradesFile *os.File
	debugFile  *os.File
	fileMu     sync.Mutex

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// New creates the log directory and starts both drain goroutines.
// baseDir is usually "logs"; files land in baseDir/bot_<id>/.
func New(baseDir string, botID int64) (*Logger, error) {
	dir := filepath.Join(baseDir, fmt.Sprintf("bot_%d", botID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	trades, err := os.OpenFile(filepath.Join(dir, "trades.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trades log: %w", err)
	}
	debug, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	l := &Logger{
		botID:      botID,
		dir:        dir,
		infoQueue:  make(chan entry, queueSize),
		dbgQueue:   make(chan entry, queueSize),
		tradesFile: trades,
		debugFile:  debug,
	}
	l.wg.Add(2)
	go l.drain(l.infoQueue, l.tradesFile)
	go l.drain(l.dbgQueue, l.debugFile)
	return l, nil
}

// Info records a trade-tier line.
func (l *Logger) Info(format string, args ...any) {
	l.enqueue(l.infoQueue, "INFO", fmt.Sprintf(format, args...))
}

// Debug records a debug-tier line.
func (l *Logger) Debug(format string, args ...any) {
	l.enqueue(l.dbgQueue, "DEBUG", fmt.Sprintf(format, args...))
}

// Warning records a warning on the debug tier.
func (l *Logger) Warning(format string, args ...any) {
	l.enqueue(l.dbgQueue, "WARNING", fmt.Sprintf(format, args...))
}

// Error records an error on the debug tier.
func (l *Logger) Error(format string, args ...any) {
	l.enqueue(l.dbgQueue, "ERROR", fmt.Sprintf(format, args...))
}

// Fatal writes synchronously, bypassing the queue, and returns the message
// as an error for the caller to terminate the bot with.
func (l *Logger) Fatal(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	l.writeDirect(l.debugFile, entry{level: "FATAL", msg: msg, at: time.Now()})
	return fmt.Errorf("fatal: %s", msg)
}

// Panic writes synchronously, then panics.
func (l *Logger) Panic(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.writeDirect(l.debugFile, entry{level: "PANIC", msg: msg, at: time.Now()})
	panic(msg)
}

func (l *Logger) enqueue(q chan entry, level, msg string) {
	e := entry{level: level, msg: msg, at: time.Now()}
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		// Late writers after Close go straight to disk.
		l.writeDirect(l.fileFor(q), e)
		return
	}
	// The queue is bounded; a full queue blocks the caller until the
	// drain goroutine catches up.
	q <- e
	l.mu.RUnlock()
}

func (l *Logger) fileFor(q chan entry) *os.File {
	if q == l.infoQueue {
		return l.tradesFile
	}
	return l.debugFile
}

// drain batches queued entries, up to flushBatch per write.
func (l *Logger) drain(q chan entry, f *os.File) {
	defer l.wg.Done()
	batch := make([]entry, 0, flushBatch)
	for e := range q {
		batch = append(batch, e)
	collect:
		for len(batch) < flushBatch {
			select {
			case more, ok := <-q:
				if !ok {
					break collect
				}
				batch = append(batch, more)
			default:
				break collect
			}
		}
		l.flush(f, batch)
		batch = batch[:0]
	}
	// Queue closed; whatever is batched is already flushed.
}

func (l *Logger) flush(f *os.File, batch []entry) {
	if len(batch) == 0 {
		return
	}
	var b strings.Builder
	for _, e := range batch {
		b.WriteString(formatEntry(e))
	}
	l.fileMu.Lock()
	f.WriteString(b.String())
	l.fileMu.Unlock()
}

func (l *Logger) writeDirect(f *os.File, e entry) {
	l.fileMu.Lock()
	f.WriteString(formatEntry(e))
	f.Sync()
	l.fileMu.Unlock()
}

func formatEntry(e entry) string {
	return fmt.Sprintf("%s [%s] %s\n", e.at.Format(time.RFC3339Nano), e.level, e.msg)
}

// Close drains both queues, then closes the files. Safe to call twice.
func (l *Logger) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.infoQueue)
		close(l.dbgQueue)
		l.mu.Unlock()
		l.wg.Wait()
		l.fileMu.Lock()
		l.tradesFile.Close()
		l.debugFile.Close()
		l.fileMu.Unlock()
	})
}

// Dir returns the bot's log directory.
func (l *Logger) Dir() string {
	return l.dir
}
