package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrExpired  = errors.New("job has expired")
)

// ValidationError reports an unacceptable upload. The external transcoder is
// never invoked once one has been produced.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StagingError reports a failure to persist the upload into the staging area.
type StagingError struct {
	Path string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("failed to stage upload to %s: %v", e.Path, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// TranscodeError reports a nonzero exit status or a missing output file.
type TranscodeError struct {
	ExitCode int
	Reason   string
	Output   string
}

func (e *TranscodeError) Error() string {
	return "conversion failed: " + e.Reason
}

// IOError wraps log and cleanup failures. They are reported but never change
// the outcome of a job.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
