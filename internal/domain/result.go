package domain

// ErrorCode is the machine-readable failure category of a job.
type ErrorCode string

const (
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeStagingFailed    ErrorCode = "STAGING_FAILED"
	CodeTranscodeFailed  ErrorCode = "TRANSCODE_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// ConversionResult is the only value returned to callers of a conversion.
// Success results carry the output fields; failures carry Error and ErrorCode.
type ConversionResult struct {
	Success     bool      `json:"success"`
	JobID       string    `json:"job_id"`
	OutputFile  string    `json:"output_file,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	Format      Format    `json:"format,omitempty"`
	FileSize    int64     `json:"file_size_bytes,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   ErrorCode `json:"error_code,omitempty"`
	LogFile     string    `json:"log_file"`
}

func Succeeded(jobID, outputFile, filePath, downloadURL string, format Format, size int64, logFile string) ConversionResult {
	return ConversionResult{
		Success:     true,
		JobID:       jobID,
		OutputFile:  outputFile,
		FilePath:    filePath,
		DownloadURL: downloadURL,
		Format:      format,
		FileSize:    size,
		LogFile:     logFile,
	}
}

func Failed(jobID string, code ErrorCode, message, logFile string) ConversionResult {
	return ConversionResult{
		Success:   false,
		JobID:     jobID,
		Error:     message,
		ErrorCode: code,
		LogFile:   logFile,
	}
}
