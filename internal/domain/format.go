package domain

import "strings"

type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
	FormatOGG Format = "ogg"
	FormatAAC Format = "aac"
	FormatM4A Format = "m4a"
)

var supportedFormats = []Format{FormatMP3, FormatWAV, FormatOGG, FormatAAC, FormatM4A}

// formatMIME maps output formats to the Content-Type used when serving them.
var formatMIME = map[Format]string{
	FormatMP3: "audio/mpeg",
	FormatWAV: "audio/wav",
	FormatOGG: "audio/ogg",
	FormatAAC: "audio/aac",
	FormatM4A: "audio/mp4",
}

// SupportedFormats returns the recognized output formats in display order.
func SupportedFormats() []Format {
	out := make([]Format, len(supportedFormats))
	copy(out, supportedFormats)
	return out
}

// ParseFormat normalizes a caller-supplied token and reports whether it is a
// recognized output format.
func ParseFormat(token string) (Format, bool) {
	f := Format(strings.ToLower(strings.TrimSpace(token)))
	_, ok := formatMIME[f]
	return f, ok
}

func (f Format) MIMEType() string {
	if mime, ok := formatMIME[f]; ok {
		return mime
	}
	return "application/octet-stream"
}

func (f Format) String() string {
	return string(f)
}
