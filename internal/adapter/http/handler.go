package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bnema/vidaudio/internal/adapter/http/templates"
	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/infrastructure/logger"
	"github.com/bnema/vidaudio/internal/validation"
	"github.com/dustin/go-humanize"
)

type ConversionService interface {
	Convert(ctx context.Context, desc domain.UploadDescriptor, req domain.ConversionRequest) domain.ConversionResult
	Submit(desc domain.UploadDescriptor, req domain.ConversionRequest) string
	Job(id string) (*domain.Job, error)
	JobLog(id string) ([]domain.LogEntry, error)
	Output(name string) (string, domain.Format, error)
	DownloadURL(outputName string) string
	SupportedFormats() []domain.Format
	AllowedExtensions() []string
	MaxFileSize() int64
	CheckTranscoder(ctx context.Context) (string, error)
}

const (
	msgNoTranscoder = "FFmpeg is not installed on the server. Please install FFmpeg to use this converter."

	// formOverhead leaves room for multipart boundaries and the other fields
	// on top of the largest accepted file.
	formOverhead = 1 << 20
	formMemory   = 32 << 20

	// Uploads get uploadGrace plus the time needed to send the largest
	// accepted file at minUploadRate.
	uploadGrace   = time.Minute
	minUploadRate = 64 << 10
)

type Handlers struct {
	svc            ConversionService
	uploadDir      string
	defaultFormat  string
	defaultBitrate string
	jobTimeout     time.Duration
	uploadGrace    time.Duration
	minUploadRate  int64
	transcoder     *transcoderStatus
}

func NewHandlers(svc ConversionService, opts Options) *Handlers {
	return &Handlers{
		svc:            svc,
		uploadDir:      opts.UploadDir,
		defaultFormat:  opts.DefaultFormat,
		defaultBitrate: opts.DefaultBitrate,
		jobTimeout:     opts.JobTimeout,
		uploadGrace:    uploadGrace,
		minUploadRate:  minUploadRate,
		transcoder:     newTranscoderStatus(svc.CheckTranscoder, time.Minute),
	}
}

// uploadWindow is how long a client may take to send a conversion request.
func (h *Handlers) uploadWindow() time.Duration {
	size := h.svc.MaxFileSize() + formOverhead
	return h.uploadGrace + time.Duration(size/h.minUploadRate)*time.Second
}

// setConvertDeadlines replaces the server-wide timeouts for one conversion
// request: the body read is bounded by the upload window, and the response
// by the upload window plus a full slot wait and run.
func (h *Handlers) setConvertDeadlines(w http.ResponseWriter) {
	now := time.Now()
	window := h.uploadWindow()

	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(now.Add(window)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn.Printf("set upload read deadline: %v", err)
	}

	var write time.Time
	if h.jobTimeout > 0 {
		write = now.Add(window + 2*h.jobTimeout + time.Minute)
	}
	if err := rc.SetWriteDeadline(write); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn.Printf("set response write deadline: %v", err)
	}
}

type errorResponse struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error"`
	ErrorCode domain.ErrorCode `json:"error_code,omitempty"`
}

type convertResponse struct {
	domain.ConversionResult
	FileSizeHuman string `json:"file_size,omitempty"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
	LogURL    string `json:"log_url"`
}

type jobResponse struct {
	*domain.Job
	FileSizeHuman string `json:"file_size_human,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("encode response: %v", err)
	}
}

func (h *Handlers) Index() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := h.transcoder.get(r.Context())

		data := templates.IndexData{
			Formats:         h.svc.SupportedFormats(),
			DefaultFormat:   h.defaultFormat,
			Bitrates:        validation.CommonBitrates,
			DefaultBitrate:  h.defaultBitrate,
			Extensions:      h.svc.AllowedExtensions(),
			MaxSize:         humanize.IBytes(uint64(h.svc.MaxFileSize())),
			TranscoderReady: err == nil,
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = templates.Index(data).Render(r.Context(), w)
	}
}

func (h *Handlers) Convert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.transcoder.get(r.Context()); err != nil {
			logger.Error.Printf("transcoder unavailable: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgNoTranscoder})
			return
		}

		h.setConvertDeadlines(w)
		desc := h.receiveUpload(w, r)
		req := domain.ConversionRequest{
			Format:  strings.TrimSpace(r.FormValue("outputFormat")),
			Bitrate: strings.TrimSpace(r.FormValue("bitrate")),
		}

		if err := validation.ValidateBitrate(req.Bitrate); err != nil {
			removeUpload(desc.TempPath)
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), ErrorCode: domain.CodeValidationFailed})
			return
		}

		if isTrue(r.FormValue("async")) {
			id := h.svc.Submit(desc, req)
			writeJSON(w, http.StatusAccepted, submitResponse{
				Success:   true,
				JobID:     id,
				StatusURL: "/jobs/" + id,
				EventsURL: "/jobs/" + id + "/events",
				LogURL:    "/jobs/" + id + "/log",
			})
			return
		}

		defer removeUpload(desc.TempPath)
		result := h.svc.Convert(r.Context(), desc, req)

		resp := convertResponse{ConversionResult: result}
		if result.Success {
			resp.FileSizeHuman = humanize.IBytes(uint64(result.FileSize))
		}
		writeJSON(w, resultStatus(result), resp)
	}
}

// receiveUpload copies the "videoFile" part into the upload directory.
// Problems with the upload itself are reported through the descriptor's
// error code so that they reach the job log like any other rejection.
func (h *Handlers) receiveUpload(w http.ResponseWriter, r *http.Request) domain.UploadDescriptor {
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.MaxFileSize()+formOverhead)

	if err := r.ParseMultipartForm(formMemory); err != nil {
		return domain.UploadDescriptor{Error: uploadErrorFor(err)}
	}

	file, header, err := r.FormFile("videoFile")
	if err != nil {
		return domain.UploadDescriptor{Error: uploadErrorFor(err)}
	}
	defer file.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(h.uploadDir, "upload-*.tmp")
	if err != nil {
		logger.Error.Printf("create upload file: %v", err)
		return domain.UploadDescriptor{OriginalName: header.Filename, Error: domain.UploadOther}
	}

	n, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Error.Printf("save upload %s: %v", logger.SanitizeForLog(header.Filename), err)
		removeUpload(tmp.Name())
		return domain.UploadDescriptor{OriginalName: header.Filename, Error: uploadErrorFor(err)}
	}

	return domain.UploadDescriptor{
		OriginalName: header.Filename,
		TempPath:     tmp.Name(),
		Size:         n,
	}
}

func uploadErrorFor(err error) domain.UploadError {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, multipart.ErrMessageTooLarge):
		return domain.UploadSizeExceeded
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return domain.UploadNoFile
	default:
		return domain.UploadOther
	}
}

func removeUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn.Printf("remove upload %s: %v", path, err)
	}
}

func resultStatus(r domain.ConversionResult) int {
	switch {
	case r.Success:
		return http.StatusOK
	case r.ErrorCode == domain.CodeValidationFailed:
		return http.StatusBadRequest
	case r.ErrorCode == domain.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (h *Handlers) Download() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("file")

		path, format, err := h.svc.Output(name)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrExpired) {
				logger.Error.Printf("download %s: %v", logger.SanitizeForLog(name), err)
			}
			http.Error(w, "File not found.", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", format.MIMEType())
		w.Header().Set("Content-Disposition", validation.ContentDisposition(name))
		http.ServeFile(w, r, path)
	}
}

func (h *Handlers) Job() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := h.lookupJob(w, r.PathValue("id"))
		if !ok {
			return
		}

		resp := jobResponse{Job: job}
		if job.State == domain.JobStateDone {
			resp.FileSizeHuman = humanize.IBytes(uint64(job.FileSize))
			resp.DownloadURL = h.svc.DownloadURL(job.OutputName)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handlers) lookupJob(w http.ResponseWriter, id string) (*domain.Job, bool) {
	job, err := h.svc.Job(id)
	switch {
	case err == nil:
		return job, true
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Job not found."})
	case errors.Is(err, domain.ErrExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: "Job has expired."})
	default:
		logger.Error.Printf("get job %s: %v", logger.SanitizeForLog(id), err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to load job."})
	}
	return nil, false
}

func (h *Handlers) JobLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		entries, err := h.svc.JobLog(id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "Log not found."})
				return
			}
			logger.Error.Printf("read job log %s: %v", logger.SanitizeForLog(id), err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to read log."})
			return
		}

		writeJSON(w, http.StatusOK, struct {
			JobID   string            `json:"job_id"`
			Entries []domain.LogEntry `json:"entries"`
		}{JobID: id, Entries: entries})
	}
}

func (h *Handlers) Formats() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		maxSize := h.svc.MaxFileSize()
		writeJSON(w, http.StatusOK, struct {
			Formats           []domain.Format `json:"formats"`
			DefaultFormat     string          `json:"default_format"`
			DefaultBitrate    string          `json:"default_bitrate"`
			AllowedExtensions []string        `json:"allowed_extensions"`
			MaxFileSize       string          `json:"max_file_size"`
			MaxFileSizeBytes  int64           `json:"max_file_size_bytes"`
		}{
			Formats:           h.svc.SupportedFormats(),
			DefaultFormat:     h.defaultFormat,
			DefaultBitrate:    h.defaultBitrate,
			AllowedExtensions: h.svc.AllowedExtensions(),
			MaxFileSize:       humanize.IBytes(uint64(maxSize)),
			MaxFileSizeBytes:  maxSize,
		})
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := h.transcoder.get(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "ok",
			"transcoder": version,
		})
	}
}

// transcoderStatus caches the outcome of the transcoder check for ttl.
type transcoderStatus struct {
	check func(ctx context.Context) (string, error)
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	version   string
	err       error
}

func newTranscoderStatus(check func(ctx context.Context) (string, error), ttl time.Duration) *transcoderStatus {
	return &transcoderStatus{check: check, ttl: ttl, now: time.Now}
}

func (s *transcoderStatus) get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkedAt.IsZero() && s.now().Sub(s.checkedAt) < s.ttl {
		return s.version, s.err
	}

	s.version, s.err = s.check(ctx)
	s.checkedAt = s.now()
	return s.version, s.err
}
