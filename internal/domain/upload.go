package domain

// UploadError is the status reported by the upload-handling collaborator.
type UploadError int

const (
	UploadOK UploadError = iota
	UploadNoFile
	UploadSizeExceeded
	UploadOther
)

func (e UploadError) String() string {
	switch e {
	case UploadOK:
		return "ok"
	case UploadNoFile:
		return "no_file"
	case UploadSizeExceeded:
		return "size_exceeded"
	default:
		return "other"
	}
}

func (e UploadError) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UploadDescriptor describes an inbound upload. It is read-only to the
// conversion core.
type UploadDescriptor struct {
	OriginalName string      `json:"original_name"`
	TempPath     string      `json:"temp_path"`
	Size         int64       `json:"size"`
	Error        UploadError `json:"error"`
}

const (
	DefaultFormat  = "mp3"
	DefaultBitrate = "192k"
)

// ConversionRequest carries the caller's output preferences. Empty fields
// are filled from defaults.
type ConversionRequest struct {
	Format  string `json:"format"`
	Bitrate string `json:"bitrate"`
}

// WithDefaults returns a copy of r where empty fields take the given values,
// falling back to the package defaults when those are empty as well.
func (r ConversionRequest) WithDefaults(format, bitrate string) ConversionRequest {
	if format == "" {
		format = DefaultFormat
	}
	if bitrate == "" {
		bitrate = DefaultBitrate
	}
	if r.Format == "" {
		r.Format = format
	}
	if r.Bitrate == "" {
		r.Bitrate = bitrate
	}
	return r
}
