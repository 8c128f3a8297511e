package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/vidaudio/internal/adapter/converter/ffmpeg"
	"github.com/bnema/vidaudio/internal/adapter/joblog"
	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/bnema/vidaudio/internal/port/mocks"
	"github.com/bnema/vidaudio/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, inv domain.Invocation) (int, string, error)

func (f runnerFunc) Run(ctx context.Context, inv domain.Invocation) (int, string, error) {
	return f(ctx, inv)
}

// producing writes the output file named by the last argument and exits 0.
func producing(output string) runnerFunc {
	return func(_ context.Context, inv domain.Invocation) (int, string, error) {
		if err := os.WriteFile(inv.Args[len(inv.Args)-1], []byte("ID3 audio payload"), 0600); err != nil {
			return -1, "", err
		}
		return 0, output, nil
	}
}

type testEnv struct {
	root    string
	staging string
	output  string
	logs    string
	uploads string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	env := testEnv{
		root:    root,
		staging: filepath.Join(root, "uploads"),
		output:  filepath.Join(root, "converted"),
		logs:    filepath.Join(root, "logs"),
		uploads: filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{env.staging, env.output, env.logs, env.uploads} {
		require.NoError(t, os.MkdirAll(dir, 0750))
	}
	return env
}

func (e testEnv) config() Config {
	return Config{
		StagingDir:      e.staging,
		OutputDir:       e.output,
		LogDir:          e.logs,
		Timeout:         5 * time.Second,
		MaxConcurrent:   2,
		DownloadBaseURL: "/download",
		Retention:       24 * time.Hour,
	}
}

func (e testEnv) deps(runner port.ProcessRunner) Deps {
	return Deps{
		Validator: validation.NewValidator(500*1024*1024, validation.DefaultVideoExtensions),
		Builder:   ffmpeg.NewBuilder("ffmpeg"),
		Runner:    runner,
		JobLog:    joblog.NewFileLogger(),
	}
}

// upload writes a temporary upload file and returns its descriptor.
func (e testEnv) upload(t *testing.T, name string, size int64) domain.UploadDescriptor {
	t.Helper()
	f, err := os.CreateTemp(e.uploads, "php*.tmp")
	require.NoError(t, err)
	_, err = f.WriteString("fake video bytes")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return domain.UploadDescriptor{OriginalName: name, TempPath: f.Name(), Size: size}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	entries, err := joblog.ReadEntries(path)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	return b.String()
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expected %s to be empty", dir)
}

func TestConvert_Success(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(producing("size=  1024kB time=00:00:10.00")), env.config())
	desc := env.upload(t, "clip.mp4", 10_000_000)

	result := svc.Convert(context.Background(), desc, domain.ConversionRequest{Format: "mp3"})

	require.True(t, result.Success, result.Error)
	assert.Regexp(t, regexp.MustCompile(`^`+regexp.QuoteMeta(result.JobID)+`_converted\.mp3$`), result.OutputFile)
	assert.Equal(t, filepath.Join(env.output, result.OutputFile), result.FilePath)
	assert.Equal(t, "/download/"+result.OutputFile, result.DownloadURL)
	assert.Equal(t, domain.FormatMP3, result.Format)
	assert.Equal(t, int64(len("ID3 audio payload")), result.FileSize)
	assert.Equal(t, filepath.Join(env.logs, result.JobID+".log"), result.LogFile)
	assert.Empty(t, result.ErrorCode)
	assert.FileExists(t, result.FilePath)

	assert.NoFileExists(t, desc.TempPath)
	assertDirEmpty(t, env.staging)

	log := readLog(t, result.LogFile)
	assert.Contains(t, log, `Job started: file="clip.mp4"`)
	assert.Contains(t, log, "Command: ffmpeg -hide_banner -nostdin -y -i ")
	assert.Contains(t, log, "Exit status: 0")
	assert.Contains(t, log, "size=  1024kB")
	assert.Contains(t, log, "Staged input removed.")
	assert.Contains(t, log, "Conversion completed: "+result.OutputFile)
}

func TestConvert_DefaultsApply(t *testing.T) {
	env := newTestEnv(t)
	var got domain.Invocation
	runner := runnerFunc(func(ctx context.Context, inv domain.Invocation) (int, string, error) {
		got = inv
		return producing("")(ctx, inv)
	})
	cfg := env.config()
	cfg.DefaultFormat = "ogg"
	cfg.DefaultBitrate = "128k"
	svc := NewConversionService(env.deps(runner), cfg)

	result := svc.Convert(context.Background(), env.upload(t, "talk.webm", 1000), domain.ConversionRequest{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, domain.FormatOGG, result.Format)
	assert.Contains(t, got.Args, "libvorbis")
	assert.Contains(t, got.Args, "128k")
}

func TestConvert_UnknownFormatFallsBackToMP3(t *testing.T) {
	env := newTestEnv(t)
	runner := mocks.NewProcessRunnerMock(t)
	builder := ffmpeg.NewBuilder("ffmpeg")
	runner.On("Run", mock.Anything, mock.AnythingOfType("domain.Invocation")).
		Run(func(args mock.Arguments) {
			inv := args.Get(1).(domain.Invocation)
			in, out := inv.Args[4], inv.Args[len(inv.Args)-1]
			assert.Equal(t, builder.Build(in, out, "mp3", "192k"), inv)
			require.NoError(t, os.WriteFile(out, []byte("mp3"), 0600))
		}).
		Return(0, "", nil).Once()
	svc := NewConversionService(env.deps(runner), env.config())

	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{Format: "xyz"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, domain.FormatMP3, result.Format)
	assert.True(t, strings.HasSuffix(result.OutputFile, "_converted.mp3"))
	assert.Contains(t, readLog(t, result.LogFile), `Format "xyz" is not recognized, using mp3.`)

	job, err := svc.Job(result.JobID)
	require.NoError(t, err)
	assert.Equal(t, "xyz", job.Format)
	assert.Equal(t, domain.FormatMP3, job.ResolvedFormat)
}

func TestConvert_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		desc    domain.UploadDescriptor
		message string
	}{
		{
			name:    "disallowed extension",
			desc:    domain.UploadDescriptor{OriginalName: "movie.exe", Size: 1000},
			message: "Invalid file type. Allowed types: mp4, avi, mov, wmv, flv, mkv, webm",
		},
		{
			name:    "no file",
			desc:    domain.UploadDescriptor{Error: domain.UploadNoFile},
			message: "No file uploaded.",
		},
		{
			name:    "size exceeded during upload",
			desc:    domain.UploadDescriptor{OriginalName: "clip.mp4", Error: domain.UploadSizeExceeded},
			message: "File size exceeds limit.",
		},
		{
			name:    "other upload error",
			desc:    domain.UploadDescriptor{OriginalName: "clip.mp4", Error: domain.UploadOther},
			message: "Upload error occurred.",
		},
		{
			name:    "declared size over limit with valid extension",
			desc:    domain.UploadDescriptor{OriginalName: "clip.mp4", Size: 600 * 1024 * 1024},
			message: "File size exceeds maximum limit (500 MiB).",
		},
		{
			name:    "declared size over limit with invalid extension",
			desc:    domain.UploadDescriptor{OriginalName: "clip.exe", Size: 600 * 1024 * 1024},
			message: "File size exceeds maximum limit (500 MiB).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			runner := mocks.NewProcessRunnerMock(t)
			svc := NewConversionService(env.deps(runner), env.config())

			result := svc.Convert(context.Background(), tt.desc, domain.ConversionRequest{Format: "mp3"})

			assert.False(t, result.Success)
			assert.Equal(t, domain.CodeValidationFailed, result.ErrorCode)
			assert.Equal(t, tt.message, result.Error)
			assert.NotEmpty(t, result.JobID)
			assert.Empty(t, result.OutputFile)
			assert.Contains(t, readLog(t, result.LogFile), "Validation failed: "+tt.message)
			runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
			assertDirEmpty(t, env.staging)
		})
	}
}

func TestConvert_StagingFailure(t *testing.T) {
	env := newTestEnv(t)
	runner := mocks.NewProcessRunnerMock(t)
	svc := NewConversionService(env.deps(runner), env.config())
	desc := domain.UploadDescriptor{OriginalName: "clip.mp4", TempPath: filepath.Join(env.uploads, "vanished.tmp"), Size: 10}

	result := svc.Convert(context.Background(), desc, domain.ConversionRequest{Format: "wav"})

	assert.False(t, result.Success)
	assert.Equal(t, domain.CodeStagingFailed, result.ErrorCode)
	assert.Equal(t, "Failed to move uploaded file.", result.Error)
	log := readLog(t, result.LogFile)
	assert.Contains(t, log, "Staging failed: failed to stage upload to ")
	assert.Contains(t, log, `"original_name":"clip.mp4"`)
	assert.Contains(t, log, `"error":"ok"`)
}

func TestConvert_NonzeroExit(t *testing.T) {
	env := newTestEnv(t)
	runner := runnerFunc(func(_ context.Context, inv domain.Invocation) (int, string, error) {
		// leave a truncated file behind, as ffmpeg does when it aborts mid-write
		_ = os.WriteFile(inv.Args[len(inv.Args)-1], []byte("partial"), 0600)
		return 1, "clip.mp4: Invalid data found when processing input", nil
	})
	svc := NewConversionService(env.deps(runner), env.config())
	desc := env.upload(t, "my clip (1).mp4", 1000)

	result := svc.Convert(context.Background(), desc, domain.ConversionRequest{Format: "aac", Bitrate: "256k"})

	assert.False(t, result.Success)
	assert.Equal(t, domain.CodeTranscodeFailed, result.ErrorCode)
	assert.Equal(t, "conversion failed: transcoder exited with status 1", result.Error)

	log := readLog(t, result.LogFile)
	assert.Contains(t, log, "Command: ffmpeg -hide_banner -nostdin -y -i ")
	assert.Contains(t, log, "-acodec aac -ab 256k")
	assert.Contains(t, log, "Exit status: 1")
	assert.Contains(t, log, "Invalid data found when processing input")
	assert.Contains(t, log, "Verification failed: transcoder exited with status 1")
	assert.Contains(t, log, "Partial output removed.")

	assertDirEmpty(t, env.staging)
	assertDirEmpty(t, env.output)
}

func TestConvert_MissingOutput(t *testing.T) {
	env := newTestEnv(t)
	runner := runnerFunc(func(context.Context, domain.Invocation) (int, string, error) {
		return 0, "", nil
	})
	svc := NewConversionService(env.deps(runner), env.config())

	result := svc.Convert(context.Background(), env.upload(t, "clip.mov", 1000), domain.ConversionRequest{Format: "m4a"})

	assert.False(t, result.Success)
	assert.Equal(t, domain.CodeTranscodeFailed, result.ErrorCode)
	assert.Contains(t, readLog(t, result.LogFile), "Verification failed: output file was not created")
	assertDirEmpty(t, env.staging)
}

func TestConvert_StartFailure(t *testing.T) {
	env := newTestEnv(t)
	runner := runnerFunc(func(context.Context, domain.Invocation) (int, string, error) {
		return -1, "", errors.New(`start ffmpeg: exec: "ffmpeg": executable file not found in $PATH`)
	})
	svc := NewConversionService(env.deps(runner), env.config())

	result := svc.Convert(context.Background(), env.upload(t, "clip.mkv", 1000), domain.ConversionRequest{})

	assert.Equal(t, domain.CodeTranscodeFailed, result.ErrorCode)
	assert.Contains(t, result.Error, "could not start transcoder")
	assertDirEmpty(t, env.staging)
}

func blockingRunner() runnerFunc {
	return func(ctx context.Context, _ domain.Invocation) (int, string, error) {
		<-ctx.Done()
		return -1, "frame=  10", fmt.Errorf("process terminated: %w", ctx.Err())
	}
}

func TestConvert_Timeout(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config()
	cfg.Timeout = 50 * time.Millisecond
	svc := NewConversionService(env.deps(blockingRunner()), cfg)

	result := svc.Convert(context.Background(), env.upload(t, "clip.flv", 1000), domain.ConversionRequest{})

	assert.False(t, result.Success)
	assert.Equal(t, domain.CodeTimeout, result.ErrorCode)
	assert.Equal(t, "Conversion timed out after 50ms.", result.Error)
	log := readLog(t, result.LogFile)
	assert.Contains(t, log, "Transcoder terminated: process terminated: context deadline exceeded")
	assert.Contains(t, log, "frame=  10")
	assertDirEmpty(t, env.staging)
}

func TestConvert_Canceled(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, inv domain.Invocation) (int, string, error) {
		close(started)
		return blockingRunner()(ctx, inv)
	})
	svc := NewConversionService(env.deps(runner), env.config())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result := svc.Convert(ctx, env.upload(t, "clip.avi", 1000), domain.ConversionRequest{})

	assert.Equal(t, domain.CodeCanceled, result.ErrorCode)
	assert.Equal(t, "Conversion canceled.", result.Error)
	assertDirEmpty(t, env.staging)
}

func TestConvert_CanceledWhileWaitingForSlot(t *testing.T) {
	env := newTestEnv(t)
	runner := mocks.NewProcessRunnerMock(t)
	svc := NewConversionService(env.deps(runner), env.config())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.sem.Acquire(context.Background(), 2))
	defer svc.sem.Release(2)

	result := svc.Convert(ctx, env.upload(t, "clip.wmv", 1000), domain.ConversionRequest{})

	assert.Equal(t, domain.CodeCanceled, result.ErrorCode)
	assert.Contains(t, readLog(t, result.LogFile), "Aborted while waiting for a transcoder slot")
	assertDirEmpty(t, env.staging)
}

func TestConvert_RecognizedFormatInAnyCaseIsNotReportedAsFallback(t *testing.T) {
	for _, token := range []string{"MP3", " mp3 ", "Ogg"} {
		t.Run(token, func(t *testing.T) {
			env := newTestEnv(t)
			svc := NewConversionService(env.deps(producing("")), env.config())

			result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{Format: token})

			require.True(t, result.Success, result.Error)
			assert.Equal(t, strings.ToLower(strings.TrimSpace(token)), string(result.Format))
			assert.NotContains(t, readLog(t, result.LogFile), "is not recognized")
		})
	}
}

func TestConvert_SlotWaitIsBoundedByTimeout(t *testing.T) {
	env := newTestEnv(t)
	runner := mocks.NewProcessRunnerMock(t)
	cfg := env.config()
	cfg.Timeout = 50 * time.Millisecond
	svc := NewConversionService(env.deps(runner), cfg)

	require.NoError(t, svc.sem.Acquire(context.Background(), 2))
	defer svc.sem.Release(2)

	start := time.Now()
	result := svc.Convert(context.Background(), env.upload(t, "clip.mov", 1000), domain.ConversionRequest{})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.CodeTimeout, result.ErrorCode)
	assert.Equal(t, "No transcoder slot became free within 50ms.", result.Error)
	assert.Contains(t, readLog(t, result.LogFile), "Aborted while waiting for a transcoder slot")
	assertDirEmpty(t, env.staging)
}

func TestConvert_CallerDeadlineIsNotReportedAsServiceTimeout(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config()
	cfg.Timeout = 30 * time.Minute
	svc := NewConversionService(env.deps(blockingRunner()), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := svc.Convert(ctx, env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})

	assert.Equal(t, domain.CodeTimeout, result.ErrorCode)
	assert.Equal(t, "Conversion exceeded the caller's deadline.", result.Error)
	assert.NotContains(t, result.Error, "30m0s")
	assertDirEmpty(t, env.staging)
}

func TestConvert_PanicBecomesInternalError(t *testing.T) {
	env := newTestEnv(t)
	runner := runnerFunc(func(context.Context, domain.Invocation) (int, string, error) {
		panic("runner exploded")
	})
	svc := NewConversionService(env.deps(runner), env.config())

	var result domain.ConversionResult
	require.NotPanics(t, func() {
		result = svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})
	})

	assert.False(t, result.Success)
	assert.Equal(t, domain.CodeInternal, result.ErrorCode)
	assert.Contains(t, readLog(t, result.LogFile), "Internal error: runner exploded")
	assertDirEmpty(t, env.staging)
}

func TestConvert_LogFailureDoesNotChangeVerdict(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config()
	cfg.LogDir = filepath.Join(env.root, "missing-logs")
	svc := NewConversionService(env.deps(producing("")), cfg)

	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})

	assert.True(t, result.Success, result.Error)
	assert.NoFileExists(t, result.LogFile)
}

func TestConvert_StoreRecordsStates(t *testing.T) {
	env := newTestEnv(t)
	store := mocks.NewJobStoreMock(t)
	var mu sync.Mutex
	var states []domain.JobState
	store.On("Save", mock.AnythingOfType("*domain.Job")).
		Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, args.Get(0).(*domain.Job).State)
		}).
		Return(nil)
	deps := env.deps(producing(""))
	deps.Store = store
	svc := NewConversionService(deps, env.config())

	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []domain.JobState{
		domain.JobStateStart,
		domain.JobStateValidated,
		domain.JobStateStaged,
		domain.JobStateInvoked,
		domain.JobStateVerified,
		domain.JobStateDone,
	}, states)
}

func TestConvert_StoreFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	store := mocks.NewJobStoreMock(t)
	store.On("Save", mock.Anything).Return(errors.New("database is locked"))
	deps := env.deps(producing(""))
	deps.Store = store
	svc := NewConversionService(deps, env.config())

	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})

	assert.True(t, result.Success, result.Error)
}

func TestConvert_ConcurrentJobsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	var active, peak int32
	runner := runnerFunc(func(ctx context.Context, inv domain.Invocation) (int, string, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return producing("")(ctx, inv)
	})
	cfg := env.config()
	cfg.MaxConcurrent = 2
	svc := NewConversionService(env.deps(runner), cfg)

	const jobs = 12
	results := make([]domain.ConversionResult, jobs)
	descs := make([]domain.UploadDescriptor, jobs)
	for i := range descs {
		descs[i] = env.upload(t, "same-name.mp4", 1000)
	}

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Convert(context.Background(), descs[i], domain.ConversionRequest{})
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, r := range results {
		require.True(t, r.Success, r.Error)
		assert.False(t, ids[r.JobID], "duplicate job id %s", r.JobID)
		ids[r.JobID] = true
		assert.True(t, strings.HasPrefix(r.OutputFile, r.JobID))
		assert.Contains(t, readLog(t, r.LogFile), r.OutputFile)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSubmit_RunsInBackground(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, inv domain.Invocation) (int, string, error) {
		<-release
		return producing("")(ctx, inv)
	})
	bus := NewEventBus()
	deps := env.deps(runner)
	deps.Events = bus
	svc := NewConversionService(deps, env.config())
	desc := env.upload(t, "clip.mp4", 1000)

	id := svc.Submit(desc, domain.ConversionRequest{Format: "wav"})
	events := bus.Subscribe(id)
	defer bus.Unsubscribe(id, events)

	job, err := svc.Job(id)
	require.NoError(t, err)
	assert.False(t, job.State.Terminal())

	close(release)
	require.NoError(t, svc.Shutdown(context.Background()))

	job, err = svc.Job(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, job.State)
	assert.Equal(t, id+"_converted.wav", job.OutputName)
	assert.NoFileExists(t, desc.TempPath)

	var last Event
	for len(events) > 0 {
		last = <-events
	}
	assert.Equal(t, domain.JobStateDone, last.State)
}

func TestSubmit_ValidationFailureRemovesUpload(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(mocks.NewProcessRunnerMock(t)), env.config())
	desc := env.upload(t, "notes.txt", 10)

	id := svc.Submit(desc, domain.ConversionRequest{})
	require.NoError(t, svc.Shutdown(context.Background()))

	job, err := svc.Job(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, domain.CodeValidationFailed, job.ErrorCode)
	assert.NoFileExists(t, desc.TempPath)
}

func TestShutdown_CancelsOnDeadline(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(blockingRunner()), env.config())
	id := svc.Submit(env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)

	job, err := svc.Job(id)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeCanceled, job.ErrorCode)
}

func TestJob_NotFoundAndExpired(t *testing.T) {
	env := newTestEnv(t)
	store := mocks.NewJobStoreMock(t)
	deps := env.deps(nil)
	deps.Store = store
	svc := NewConversionService(deps, env.config())

	store.On("Get", "missing").Return(nil, domain.ErrNotFound).Once()
	_, err := svc.Job("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	old := &domain.Job{ID: "old", State: domain.JobStateDone, CreatedAt: time.Now().Add(-48 * time.Hour)}
	store.On("Get", "old").Return(old, nil).Once()
	_, err = svc.Job("old")
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestOutput(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(producing("")), env.config())
	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{Format: "ogg"})
	require.True(t, result.Success, result.Error)

	path, format, err := svc.Output(result.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, result.FilePath, path)
	assert.Equal(t, domain.FormatOGG, format)

	orphan := "6f1c2a8e-4d7b-4c1e-9f3a-2b5d8e7c1a90_converted.mp3"
	require.NoError(t, os.WriteFile(filepath.Join(env.output, orphan), []byte("x"), 0600))
	_, _, err = svc.Output(orphan)
	assert.NoError(t, err)

	for _, name := range []string{
		"",
		"../" + result.OutputFile,
		`..\` + result.OutputFile,
		"not-a-uuid_converted.mp3",
		strings.TrimSuffix(result.OutputFile, ".ogg") + ".exe",
		strings.TrimSuffix(result.OutputFile, ".ogg") + ".OGG",
		"0b0c8a54-7a9e-4a52-8d1e-5d5f7c4f3b21_converted.mp3",
	} {
		_, _, err := svc.Output(name)
		assert.ErrorIs(t, err, domain.ErrNotFound, name)
	}
}

func TestJobLog(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(producing("")), env.config())
	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})

	entries, err := svc.JobLog(result.JobID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.True(t, strings.HasPrefix(entries[0].Message, "Job started"))
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}

	_, err = svc.JobLog("../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.JobLog("0b0c8a54-7a9e-4a52-8d1e-5d5f7c4f3b21")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCleanup_WithStore(t *testing.T) {
	env := newTestEnv(t)
	store := mocks.NewJobStoreMock(t)
	deps := env.deps(nil)
	deps.Store = store
	svc := NewConversionService(deps, env.config())

	output := filepath.Join(env.output, "a_converted.mp3")
	logPath := filepath.Join(env.logs, "a.log")
	require.NoError(t, os.WriteFile(output, []byte("x"), 0600))
	require.NoError(t, os.WriteFile(logPath, []byte("x"), 0600))
	now := time.Now().UTC()

	store.On("ListExpired", now.Add(-24*time.Hour)).Return([]*domain.Job{
		{ID: "a", State: domain.JobStateDone, OutputPath: output, LogPath: logPath},
		{ID: "b", State: domain.JobStateFailed, StagedPath: filepath.Join(env.staging, "gone.mp4")},
	}, nil).Once()
	store.On("Delete", "a").Return(nil).Once()
	store.On("Delete", "b").Return(errors.New("disk I/O error")).Once()

	removed, err := svc.Cleanup(now)

	assert.Equal(t, 1, removed)
	assert.ErrorContains(t, err, "delete job b")
	assert.NoFileExists(t, output)
	assert.NoFileExists(t, logPath)
}

func TestCleanup_WithoutStore(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(producing("")), env.config())
	result := svc.Convert(context.Background(), env.upload(t, "clip.mp4", 1000), domain.ConversionRequest{})
	require.True(t, result.Success, result.Error)

	removed, err := svc.Cleanup(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = svc.Cleanup(time.Now().Add(48 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, result.FilePath)
	assert.NoFileExists(t, result.LogFile)
	_, err = svc.Job(result.JobID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecoverInterrupted(t *testing.T) {
	env := newTestEnv(t)
	store := mocks.NewJobStoreMock(t)
	deps := env.deps(nil)
	deps.Store = store
	svc := NewConversionService(deps, env.config())

	staged := filepath.Join(env.staging, "x_clip.mp4")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0600))
	stalled := &domain.Job{ID: "x", State: domain.JobStateInvoked, StagedPath: staged, ResolvedFormat: domain.FormatMP3, LogPath: filepath.Join(env.logs, "x.log")}
	done := &domain.Job{ID: "y", State: domain.JobStateDone}
	store.On("ListAll").Return([]*domain.Job{stalled, done}, nil).Once()
	store.On("Save", mock.MatchedBy(func(j *domain.Job) bool {
		return j.ID == "x" && j.State == domain.JobStateFailed && j.ErrorCode == domain.CodeInternal
	})).Return(nil).Once()

	n, err := svc.RecoverInterrupted()

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, staged)
	assert.Contains(t, readLog(t, stalled.LogPath), "Job interrupted by a restart.")
}

func TestCheckTranscoder(t *testing.T) {
	env := newTestEnv(t)
	svc := NewConversionService(env.deps(nil), env.config())
	_, err := svc.CheckTranscoder(context.Background())
	assert.Error(t, err)

	runner := mocks.NewProcessRunnerMock(t)
	runner.On("Run", mock.Anything, domain.Invocation{Program: "ffmpeg", Args: []string{"-version"}}).
		Return(0, "ffmpeg version n7.0\n", nil).Once()
	deps := env.deps(runner)
	deps.Checker = ffmpeg.NewVerifier(runner, "ffmpeg")
	svc = NewConversionService(deps, env.config())

	version, err := svc.CheckTranscoder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg version n7.0", version)
}

func TestDownloadURL(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config()
	cfg.DownloadBaseURL = "https://files.example.com/dl/"
	svc := NewConversionService(env.deps(nil), cfg)

	assert.Equal(t, "https://files.example.com/dl/a_converted.mp3", svc.DownloadURL("a_converted.mp3"))
	assert.Equal(t, []domain.Format{"mp3", "wav", "ogg", "aac", "m4a"}, svc.SupportedFormats())
	assert.Equal(t, validation.DefaultVideoExtensions, svc.AllowedExtensions())
	assert.Equal(t, int64(500*1024*1024), svc.MaxFileSize())
}
