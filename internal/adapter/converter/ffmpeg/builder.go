// Package ffmpeg builds and runs ffmpeg invocations for audio extraction.
package ffmpeg

import (
	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
)

// profile holds the codec parameters for one output format.
type profile struct {
	codecArgs   []string
	usesBitrate bool
}

// profiles is the closed set of recognized output formats. Unknown formats
// fall back to mp3.
var profiles = map[domain.Format]profile{
	domain.FormatMP3: {codecArgs: []string{"-q:a", "0", "-map", "a"}},
	domain.FormatWAV: {codecArgs: []string{"-vn", "-acodec", "pcm_s16le", "-ar", "44100"}},
	domain.FormatOGG: {codecArgs: []string{"-vn", "-acodec", "libvorbis"}, usesBitrate: true},
	domain.FormatAAC: {codecArgs: []string{"-vn", "-acodec", "aac"}, usesBitrate: true},
	domain.FormatM4A: {codecArgs: []string{"-vn", "-acodec", "aac"}, usesBitrate: true},
}

const fallbackFormat = domain.FormatMP3

type Builder struct {
	ffmpegPath string
}

func NewBuilder(ffmpegPath string) *Builder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Builder{ffmpegPath: ffmpegPath}
}

// Resolve returns the format whose profile Build will use for the token.
func (b *Builder) Resolve(format string) domain.Format {
	f, ok := domain.ParseFormat(format)
	if !ok {
		return fallbackFormat
	}
	return f
}

// Build returns the ffmpeg invocation converting inputPath to outputPath.
// The bitrate is only applied by profiles that take one and defaults to
// 192k when empty.
func (b *Builder) Build(inputPath, outputPath, format, bitrate string) domain.Invocation {
	p := profiles[b.Resolve(format)]

	args := make([]string, 0, 16)
	args = append(args, "-hide_banner", "-nostdin", "-y", "-i", inputPath)
	args = append(args, p.codecArgs...)
	if p.usesBitrate {
		if bitrate == "" {
			bitrate = domain.DefaultBitrate
		}
		args = append(args, "-ab", bitrate)
	}
	args = append(args, outputPath)

	return domain.Invocation{Program: b.ffmpegPath, Args: args}
}

// SupportedFormats lists the formats that have a dedicated profile.
func (b *Builder) SupportedFormats() []domain.Format {
	return domain.SupportedFormats()
}

var _ port.CommandBuilder = (*Builder)(nil)
