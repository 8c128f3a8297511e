package validation

import (
	"regexp"

	"github.com/bnema/vidaudio/internal/domain"
)

var bitratePattern = regexp.MustCompile(`^[1-9][0-9]{0,3}k$`)

// CommonBitrates are offered by the upload form.
var CommonBitrates = []string{"96k", "128k", "192k", "256k", "320k"}

// ValidateBitrate accepts an empty value, which selects the default, or a
// value such as "192k".
func ValidateBitrate(bitrate string) error {
	if bitrate == "" || bitratePattern.MatchString(bitrate) {
		return nil
	}
	return &domain.ValidationError{Message: "Invalid bitrate. Use a value such as 192k."}
}
