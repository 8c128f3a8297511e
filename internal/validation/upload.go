// Package validation checks uploads before any filesystem side effect and
// sanitizes the names derived from them.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/dustin/go-humanize"
)

const (
	msgNoFile       = "No file uploaded."
	msgSizeExceeded = "File size exceeds limit."
	msgUploadError  = "Upload error occurred."
)

// DefaultVideoExtensions is the default allowlist of accepted upload types.
var DefaultVideoExtensions = []string{"mp4", "avi", "mov", "wmv", "flv", "mkv", "webm"}

// Validator accepts or rejects upload descriptors. It has no side effects and
// returns the same verdict for the same input.
type Validator struct {
	maxSize    int64
	allowed    []string
	allowedSet map[string]struct{}
}

func NewValidator(maxSize int64, allowedExtensions []string) *Validator {
	allowed := NormalizeExtensions(allowedExtensions)
	set := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		set[ext] = struct{}{}
	}
	return &Validator{
		maxSize:    maxSize,
		allowed:    allowed,
		allowedSet: set,
	}
}

// Validate runs the upload checks in order and stops at the first failure:
// upload status, declared size, then filename extension.
func Validate(d domain.UploadDescriptor, maxSize int64, allowedExtensions []string) error {
	return NewValidator(maxSize, allowedExtensions).Validate(d)
}

func (v *Validator) Validate(d domain.UploadDescriptor) error {
	switch d.Error {
	case domain.UploadOK:
	case domain.UploadNoFile:
		return &domain.ValidationError{Message: msgNoFile}
	case domain.UploadSizeExceeded:
		return &domain.ValidationError{Message: msgSizeExceeded}
	default:
		return &domain.ValidationError{Message: msgUploadError}
	}

	if d.Size < 0 {
		return &domain.ValidationError{Message: msgUploadError}
	}
	if d.Size > v.maxSize {
		return &domain.ValidationError{
			Message: fmt.Sprintf("File size exceeds maximum limit (%s).", humanize.IBytes(uint64(v.maxSize))),
		}
	}

	if _, ok := v.allowedSet[Extension(d.OriginalName)]; !ok {
		return &domain.ValidationError{
			Message: "Invalid file type. Allowed types: " + strings.Join(v.allowed, ", "),
		}
	}

	return nil
}

// AllowedExtensions returns the normalized allowlist in configured order.
func (v *Validator) AllowedExtensions() []string {
	out := make([]string, len(v.allowed))
	copy(out, v.allowed)
	return out
}

func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// NormalizeExtensions lower-cases, strips leading dots and drops duplicates
// and blanks while keeping the first-seen order.
func NormalizeExtensions(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

var _ port.UploadValidator = (*Validator)(nil)
