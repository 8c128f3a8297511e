package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobState follows START -> VALIDATED -> STAGED -> INVOKED -> VERIFIED -> DONE,
// with FAILED reachable from any non-terminal state.
type JobState string

const (
	JobStateStart     JobState = "start"
	JobStateValidated JobState = "validated"
	JobStateStaged    JobState = "staged"
	JobStateInvoked   JobState = "invoked"
	JobStateVerified  JobState = "verified"
	JobStateDone      JobState = "done"
	JobStateFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// JobContext holds the paths owned by a single job. Every file name derives
// from ID, so files sharing an ID belong to the same job.
type JobContext struct {
	ID         string
	StagedPath string
	OutputName string
	OutputPath string
	LogPath    string
}

// NewJobID returns a random identifier that is unique across concurrent and
// successive jobs with overwhelming probability.
func NewJobID() string {
	return uuid.NewString()
}

// Job is the persisted record of one conversion attempt.
type Job struct {
	ID             string     `json:"id"`
	OriginalName   string     `json:"original_name"`
	Format         string     `json:"format"`
	ResolvedFormat Format     `json:"resolved_format"`
	Bitrate        string     `json:"bitrate"`
	State          JobState   `json:"state"`
	ErrorCode      ErrorCode  `json:"error_code"`
	ErrorMessage   string     `json:"error_message"`
	StagedPath     string     `json:"staged_path"`
	OutputName     string     `json:"output_name"`
	OutputPath     string     `json:"output_path"`
	LogPath        string     `json:"log_path"`
	FileSize       int64      `json:"file_size"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func NewJob(jc JobContext, originalName string, req ConversionRequest) *Job {
	return &Job{
		ID:           jc.ID,
		OriginalName: originalName,
		Format:       req.Format,
		Bitrate:      req.Bitrate,
		State:        JobStateStart,
		LogPath:      jc.LogPath,
		CreatedAt:    time.Now().UTC(),
	}
}

func (j *Job) Advance(state JobState) {
	j.State = state
}

func (j *Job) MarkAsDone(outputName, outputPath string, size int64) {
	now := time.Now().UTC()
	j.State = JobStateDone
	j.OutputName = outputName
	j.OutputPath = outputPath
	j.FileSize = size
	j.ErrorCode = ""
	j.ErrorMessage = ""
	j.CompletedAt = &now
}

func (j *Job) MarkAsFailed(code ErrorCode, msg string) {
	now := time.Now().UTC()
	j.State = JobStateFailed
	j.ErrorCode = code
	j.ErrorMessage = msg
	j.CompletedAt = &now
}

// IsExpired reports whether the job is older than the retention window.
func (j *Job) IsExpired(now time.Time, retention time.Duration) bool {
	return now.Sub(j.CreatedAt) > retention
}

// LogEntry is one timestamped line group of a job's audit log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
