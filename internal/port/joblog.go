package port

import "github.com/bnema/vidaudio/internal/domain"

// JobLogger appends timestamped entries to a per-job log, creating it on
// first use.
type JobLogger interface {
	Append(logPath, message string) error
	Read(logPath string) ([]domain.LogEntry, error)
}
