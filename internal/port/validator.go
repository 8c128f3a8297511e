package port

import "github.com/bnema/vidaudio/internal/domain"

// UploadValidator checks an upload before any side effect happens.
type UploadValidator interface {
	Validate(d domain.UploadDescriptor) error
	AllowedExtensions() []string
	MaxSize() int64
}
