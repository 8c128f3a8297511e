// Package templates renders the HTML pages served next to the JSON API.
package templates

import (
	"strings"

	"github.com/bnema/vidaudio/internal/domain"
)

//go:generate templ generate

type IndexData struct {
	Formats         []domain.Format
	DefaultFormat   string
	Bitrates        []string
	DefaultBitrate  string
	Extensions      []string
	MaxSize         string
	TranscoderReady bool
}

// acceptList turns extensions into the value of a file input's accept attribute.
func acceptList(exts []string) string {
	accept := make([]string, len(exts))
	for i, ext := range exts {
		accept[i] = "." + ext
	}
	return strings.Join(accept, ",")
}
