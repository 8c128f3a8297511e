package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/infrastructure/logger"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/bnema/vidaudio/internal/validation"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	StagingDir      string
	OutputDir       string
	LogDir          string
	DefaultFormat   string
	DefaultBitrate  string
	Timeout         time.Duration
	MaxConcurrent   int
	DownloadBaseURL string
	Retention       time.Duration
}

// Deps are the collaborators of a ConversionService. Checker, Store and Events
// may be nil.
type Deps struct {
	Validator port.UploadValidator
	Builder   port.CommandBuilder
	Runner    port.ProcessRunner
	JobLog    port.JobLogger
	Checker   port.TranscoderChecker
	Store     port.JobStore
	Events    EventPublisher
}

// ConversionService runs conversion jobs. Every call to Convert returns
// exactly one ConversionResult and writes at least one entry to the job log.
type ConversionService struct {
	validator port.UploadValidator
	builder   port.CommandBuilder
	runner    port.ProcessRunner
	joblog    port.JobLogger
	checker   port.TranscoderChecker
	store     port.JobStore
	events    EventPublisher

	cfg Config
	sem *semaphore.Weighted
	now func() time.Time

	mu sync.Mutex
	// jobs holds running jobs, and finished ones too when there is no store.
	jobs map[string]*domain.Job

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

func NewConversionService(deps Deps, cfg Config) *ConversionService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = domain.DefaultFormat
	}
	if cfg.DefaultBitrate == "" {
		cfg.DefaultBitrate = domain.DefaultBitrate
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &ConversionService{
		validator: deps.Validator,
		builder:   deps.Builder,
		runner:    deps.Runner,
		joblog:    deps.JobLog,
		checker:   deps.Checker,
		store:     deps.Store,
		events:    deps.Events,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:       func() time.Time { return time.Now().UTC() },
		jobs:      make(map[string]*domain.Job),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
}

// Convert runs one job to completion and returns its result.
func (s *ConversionService) Convert(ctx context.Context, desc domain.UploadDescriptor, req domain.ConversionRequest) domain.ConversionResult {
	job, jc := s.begin(desc, req)
	return s.process(ctx, job, jc, desc)
}

// Submit starts a job in the background and returns its id. The service takes
// ownership of desc.TempPath and removes it once the job ends.
func (s *ConversionService) Submit(desc domain.UploadDescriptor, req domain.ConversionRequest) string {
	job, jc := s.begin(desc, req)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(s.bgCtx, job, jc, desc)

		if desc.TempPath == "" {
			return
		}
		if err := os.Remove(desc.TempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn.Printf("job %s: remove upload: %v", job.ID, err)
		}
	}()

	return job.ID
}

// Shutdown waits for background jobs. When ctx ends first they are canceled.
func (s *ConversionService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.bgCancel()
		return nil
	case <-ctx.Done():
		s.bgCancel()
		<-done
		return ctx.Err()
	}
}

func (s *ConversionService) begin(desc domain.UploadDescriptor, req domain.ConversionRequest) (*domain.Job, domain.JobContext) {
	req = req.WithDefaults(s.cfg.DefaultFormat, s.cfg.DefaultBitrate)

	id := domain.NewJobID()
	resolved := s.builder.Resolve(req.Format)
	outputName := id + "_converted." + string(resolved)

	jc := domain.JobContext{
		ID:         id,
		StagedPath: filepath.Join(s.cfg.StagingDir, validation.StagedFilename(id, desc.OriginalName)),
		OutputName: outputName,
		OutputPath: filepath.Join(s.cfg.OutputDir, outputName),
		LogPath:    filepath.Join(s.cfg.LogDir, id+".log"),
	}

	job := domain.NewJob(jc, desc.OriginalName, req)
	job.ResolvedFormat = resolved
	s.record(job, "")

	return job, jc
}

func (s *ConversionService) process(ctx context.Context, job *domain.Job, jc domain.JobContext, desc domain.UploadDescriptor) (result domain.ConversionResult) {
	staged := false
	release := func(removeOutput bool) {
		staged = false
		s.cleanup(jc, removeOutput)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error.Printf("job %s: panic: %v\n%s", job.ID, r, debug.Stack())
			s.log(jc, fmt.Sprintf("Internal error: %v", r))
			if staged {
				s.cleanup(jc, true)
			}
			result = s.fail(job, jc, domain.CodeInternal, "Internal error during conversion.")
		}
	}()

	s.log(jc, fmt.Sprintf("Job started: file=%q size=%d format=%q bitrate=%q",
		desc.OriginalName, desc.Size, job.Format, job.Bitrate))

	if err := s.validator.Validate(desc); err != nil {
		s.log(jc, "Validation failed: "+err.Error())
		return s.fail(job, jc, domain.CodeValidationFailed, err.Error())
	}
	s.advance(job, domain.JobStateValidated)

	if err := stageUpload(desc.TempPath, jc.StagedPath); err != nil {
		serr := &domain.StagingError{Path: jc.StagedPath, Err: err}
		raw, _ := json.Marshal(desc)
		s.log(jc, fmt.Sprintf("Staging failed: %v\nUpload descriptor: %s", serr, raw))
		return s.fail(job, jc, domain.CodeStagingFailed, "Failed to move uploaded file.")
	}
	staged = true
	job.StagedPath = jc.StagedPath
	s.log(jc, "Upload staged: "+jc.StagedPath)
	s.advance(job, domain.JobStateStaged)

	inv := s.builder.Build(jc.StagedPath, jc.OutputPath, job.Format, job.Bitrate)
	if _, known := domain.ParseFormat(job.Format); !known {
		s.log(jc, fmt.Sprintf("Format %q is not recognized, using %s.", job.Format, job.ResolvedFormat))
	}

	// The wait for a slot is bounded like the run itself.
	waitCtx, cancelWait := context.WithTimeout(ctx, s.cfg.Timeout)
	err := s.sem.Acquire(waitCtx, 1)
	cancelWait()
	if err != nil {
		s.log(jc, "Aborted while waiting for a transcoder slot: "+err.Error())
		release(false)
		code, msg := s.interruption(ctx, err,
			fmt.Sprintf("No transcoder slot became free within %s.", s.cfg.Timeout))
		return s.fail(job, jc, code, msg)
	}

	status, output, runErr := s.invoke(ctx, job, inv)
	s.log(jc, fmt.Sprintf("Command: %s\nExit status: %d\nOutput:\n%s", inv, status, output))

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
			s.log(jc, "Transcoder terminated: "+runErr.Error())
			release(true)
			code, msg := s.interruption(ctx, runErr,
				fmt.Sprintf("Conversion timed out after %s.", s.cfg.Timeout))
			return s.fail(job, jc, code, msg)
		}
		terr := &domain.TranscodeError{ExitCode: status, Reason: "could not start transcoder: " + runErr.Error(), Output: output}
		s.log(jc, "Verification failed: "+terr.Reason)
		release(true)
		return s.fail(job, jc, domain.CodeTranscodeFailed, terr.Error())
	}

	size, terr := verifyOutput(status, output, jc.OutputPath)
	if terr != nil {
		s.log(jc, "Verification failed: "+terr.Reason)
		release(true)
		return s.fail(job, jc, domain.CodeTranscodeFailed, terr.Error())
	}
	s.advance(job, domain.JobStateVerified)

	release(false)
	s.log(jc, fmt.Sprintf("Conversion completed: %s (%s, %s)",
		jc.OutputName, job.ResolvedFormat, humanize.IBytes(uint64(size))))

	job.MarkAsDone(jc.OutputName, jc.OutputPath, size)
	s.record(job, "")
	logger.Info.Printf("job %s done: %s -> %s", job.ID, logger.SanitizeForLog(job.OriginalName), jc.OutputName)

	return domain.Succeeded(job.ID, jc.OutputName, jc.OutputPath, s.DownloadURL(jc.OutputName),
		job.ResolvedFormat, size, jc.LogPath)
}

// invoke holds one concurrency slot for the duration of the run.
func (s *ConversionService) invoke(ctx context.Context, job *domain.Job, inv domain.Invocation) (int, string, error) {
	defer s.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	s.advance(job, domain.JobStateInvoked)
	return s.runner.Run(runCtx, inv)
}

func verifyOutput(status int, output, outputPath string) (int64, *domain.TranscodeError) {
	if status != 0 {
		return 0, &domain.TranscodeError{
			ExitCode: status,
			Reason:   fmt.Sprintf("transcoder exited with status %d", status),
			Output:   output,
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil || !info.Mode().IsRegular() {
		return 0, &domain.TranscodeError{Reason: "output file was not created", Output: output}
	}
	return info.Size(), nil
}

// interruption classifies a context error. ctx is the caller's context: when
// it is still live, the deadline that fired was the service's own and
// ownTimeout describes it.
func (s *ConversionService) interruption(ctx context.Context, err error, ownTimeout string) (domain.ErrorCode, string) {
	switch callerErr := ctx.Err(); {
	case errors.Is(callerErr, context.DeadlineExceeded):
		return domain.CodeTimeout, "Conversion exceeded the caller's deadline."
	case callerErr != nil:
		return domain.CodeCanceled, "Conversion canceled."
	case errors.Is(err, context.DeadlineExceeded):
		return domain.CodeTimeout, ownTimeout
	default:
		return domain.CodeCanceled, "Conversion canceled."
	}
}

// cleanup removes the staged input and, when asked, any partial output.
// Failures are logged and never change the job outcome.
func (s *ConversionService) cleanup(jc domain.JobContext, removeOutput bool) {
	if err := os.Remove(jc.StagedPath); err != nil {
		s.ioFailure(jc, &domain.IOError{Op: "remove staged input", Err: err})
	} else {
		s.log(jc, "Staged input removed.")
	}

	if !removeOutput {
		return
	}
	err := os.Remove(jc.OutputPath)
	switch {
	case err == nil:
		s.log(jc, "Partial output removed.")
	case !errors.Is(err, fs.ErrNotExist):
		s.ioFailure(jc, &domain.IOError{Op: "remove partial output", Err: err})
	}
}

func (s *ConversionService) ioFailure(jc domain.JobContext, err *domain.IOError) {
	logger.Warn.Printf("job %s: %v", jc.ID, err)
	s.log(jc, "Cleanup failed: "+err.Error())
}

func (s *ConversionService) log(jc domain.JobContext, message string) {
	if err := s.joblog.Append(jc.LogPath, message); err != nil {
		logger.Error.Printf("job %s: %v", jc.ID, &domain.IOError{Op: "append job log", Err: err})
	}
}

func (s *ConversionService) advance(job *domain.Job, state domain.JobState) {
	job.Advance(state)
	s.record(job, "")
}

func (s *ConversionService) fail(job *domain.Job, jc domain.JobContext, code domain.ErrorCode, message string) domain.ConversionResult {
	job.MarkAsFailed(code, message)
	s.record(job, message)
	logger.Warn.Printf("job %s failed: %s: %s", job.ID, code, logger.SanitizeForLog(message))
	return domain.Failed(job.ID, code, message, jc.LogPath)
}

// record persists the job, then updates the in-memory view and notifies
// subscribers.
func (s *ConversionService) record(job *domain.Job, message string) {
	if s.store != nil {
		if err := s.store.Save(job); err != nil {
			logger.Warn.Printf("job %s: %v", job.ID, &domain.IOError{Op: "save job record", Err: err})
		}
	}

	snapshot := *job
	s.mu.Lock()
	if job.State.Terminal() && s.store != nil {
		delete(s.jobs, job.ID)
	} else {
		s.jobs[job.ID] = &snapshot
	}
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(job.ID, Event{JobID: job.ID, State: job.State, Message: message})
	}
}

// DownloadURL returns the locator under which an output file is served.
func (s *ConversionService) DownloadURL(outputName string) string {
	return strings.TrimRight(s.cfg.DownloadBaseURL, "/") + "/" + url.PathEscape(outputName)
}

func (s *ConversionService) SupportedFormats() []domain.Format {
	return domain.SupportedFormats()
}

func (s *ConversionService) AllowedExtensions() []string {
	return s.validator.AllowedExtensions()
}

func (s *ConversionService) MaxFileSize() int64 {
	return s.validator.MaxSize()
}

// CheckTranscoder returns the transcoder version line, or an error when it
// cannot be executed.
func (s *ConversionService) CheckTranscoder(ctx context.Context) (string, error) {
	if s.checker == nil {
		return "", errors.New("no transcoder checker configured")
	}
	return s.checker.Version(ctx)
}

// Job returns the current record of a job.
func (s *ConversionService) Job(id string) (*domain.Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		if s.store == nil {
			return nil, domain.ErrNotFound
		}
		var err error
		if j, err = s.store.Get(id); err != nil {
			return nil, err
		}
	} else {
		c := *j
		j = &c
	}

	if j.State.Terminal() && s.expired(j, s.now()) {
		return nil, domain.ErrExpired
	}
	return j, nil
}

// JobLog returns the audit log entries of a job in write order.
func (s *ConversionService) JobLog(id string) ([]domain.LogEntry, error) {
	if !isJobID(id) {
		return nil, domain.ErrNotFound
	}
	return s.joblog.Read(filepath.Join(s.cfg.LogDir, id+".log"))
}

// Output resolves a download name to a finished output file.
func (s *ConversionService) Output(name string) (string, domain.Format, error) {
	id, format, ok := parseOutputName(name)
	if !ok {
		return "", "", domain.ErrNotFound
	}

	job, err := s.Job(id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// outputs of jobs without a record are still served
	case err != nil:
		return "", "", err
	case job.State != domain.JobStateDone:
		return "", "", domain.ErrNotFound
	}

	path := filepath.Join(s.cfg.OutputDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", "", domain.ErrNotFound
	}
	return path, format, nil
}

func parseOutputName(name string) (string, domain.Format, bool) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", "", false
	}
	idx := strings.LastIndex(name, "_converted.")
	if idx < 0 {
		return "", "", false
	}
	id, ext := name[:idx], name[idx+len("_converted."):]
	format, ok := domain.ParseFormat(ext)
	if !ok || string(format) != ext || !isJobID(id) {
		return "", "", false
	}
	return id, format, true
}

func isJobID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

func (s *ConversionService) expired(j *domain.Job, now time.Time) bool {
	return s.cfg.Retention > 0 && j.IsExpired(now, s.cfg.Retention)
}

// RecoverInterrupted fails jobs left unfinished by a previous process and
// removes their staged inputs and partial outputs.
func (s *ConversionService) RecoverInterrupted() (int, error) {
	if s.store == nil {
		return 0, nil
	}

	jobs, err := s.store.ListAll()
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	recovered := 0
	for _, j := range jobs {
		if j.State.Terminal() || s.running(j.ID) {
			continue
		}
		removeIfExists(j.StagedPath)
		if j.OutputPath != "" {
			removeIfExists(j.OutputPath)
		} else {
			removeIfExists(filepath.Join(s.cfg.OutputDir, j.ID+"_converted."+string(j.ResolvedFormat)))
		}

		jc := domain.JobContext{ID: j.ID, LogPath: j.LogPath}
		if jc.LogPath != "" {
			s.log(jc, "Job interrupted by a restart.")
		}
		j.MarkAsFailed(domain.CodeInternal, "Job interrupted by a restart.")
		if err := s.store.Save(j); err != nil {
			logger.Warn.Printf("job %s: %v", j.ID, &domain.IOError{Op: "save job record", Err: err})
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (s *ConversionService) running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return ok && !j.State.Terminal()
}

// Cleanup deletes the outputs, logs and records of jobs older than the
// retention window and returns how many jobs were removed.
func (s *ConversionService) Cleanup(now time.Time) (int, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.cfg.Retention)

	if s.store == nil {
		return s.cleanupMemory(now), nil
	}

	expired, err := s.store.ListExpired(cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired jobs: %w", err)
	}

	var errs []error
	removed := 0
	for _, j := range expired {
		if s.running(j.ID) {
			continue
		}
		s.removeJobFiles(j)
		if err := s.store.Delete(j.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete job %s: %w", j.ID, err))
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info.Printf("retention cleanup removed %d jobs", removed)
	}
	return removed, errors.Join(errs...)
}

func (s *ConversionService) cleanupMemory(now time.Time) int {
	s.mu.Lock()
	var expired []*domain.Job
	for id, j := range s.jobs {
		if j.State.Terminal() && s.expired(j, now) {
			expired = append(expired, j)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, j := range expired {
		s.removeJobFiles(j)
	}
	return len(expired)
}

func (s *ConversionService) removeJobFiles(j *domain.Job) {
	for _, p := range []string{j.OutputPath, j.StagedPath, j.LogPath} {
		removeIfExists(p)
	}
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn.Printf("%v", &domain.IOError{Op: "remove " + path, Err: err})
	}
}
