// Package joblog writes per-job audit logs. Each entry is one locked,
// synced append so concurrent writers never interleave partial entries.
package joblog

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
)

// TimestampLayout is ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// continuation prefixes every line after the first of a multi-line message,
// so that only entry headers start at column zero.
const continuation = "    "

type FileLogger struct {
	now func() time.Time
}

func NewFileLogger() *FileLogger {
	return &FileLogger{now: func() time.Time { return time.Now().UTC() }}
}

// Append writes "[timestamp] message" to logPath, creating the file if
// needed. The timestamp is taken when Append is called.
func (l *FileLogger) Append(logPath, message string) error {
	entry := formatEntry(l.now(), message)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	defer f.Close() //nolint:errcheck

	unlock, err := lockFile(f)
	if err != nil {
		return fmt.Errorf("lock job log: %w", err)
	}
	defer unlock()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("write job log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync job log: %w", err)
	}
	return nil
}

func formatEntry(ts time.Time, message string) string {
	message = strings.TrimRight(message, "\r\n")
	message = strings.ReplaceAll(message, "\r\n", "\n")
	message = strings.ReplaceAll(message, "\n", "\n"+continuation)
	return "[" + ts.Format(TimestampLayout) + "] " + message + "\n"
}

func (l *FileLogger) Read(logPath string) ([]domain.LogEntry, error) {
	return ReadEntries(logPath)
}

// ReadEntries parses a job log back into entries in write order.
func ReadEntries(logPath string) ([]domain.LogEntry, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var entries []domain.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, continuation) && len(entries) > 0 {
			last := &entries[len(entries)-1]
			last.Message += "\n" + strings.TrimPrefix(line, continuation)
			continue
		}

		entry, ok := parseHeader(line)
		if !ok {
			return nil, fmt.Errorf("malformed job log line: %q", line)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseHeader(line string) (domain.LogEntry, bool) {
	if !strings.HasPrefix(line, "[") {
		return domain.LogEntry{}, false
	}
	stamp, msg, ok := strings.Cut(line[1:], "] ")
	if !ok {
		return domain.LogEntry{}, false
	}
	ts, err := time.Parse(TimestampLayout, stamp)
	if err != nil {
		return domain.LogEntry{}, false
	}
	return domain.LogEntry{Timestamp: ts, Message: msg}, true
}

var _ port.JobLogger = (*FileLogger)(nil)
