package ffmpeg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
)

const verifyTimeout = 5 * time.Second

// VerifyInstalled runs "<ffmpeg> -version" and returns the first line of its
// output.
func VerifyInstalled(ctx context.Context, runner port.ProcessRunner, ffmpegPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	status, out, err := runner.Run(ctx, domain.Invocation{Program: ffmpegPath, Args: []string{"-version"}})
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	if status != 0 {
		return "", fmt.Errorf("ffmpeg -version exited with status %d", status)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, nil
}

// Verifier reports the installed ffmpeg version through a ProcessRunner.
type Verifier struct {
	runner     port.ProcessRunner
	ffmpegPath string
}

func NewVerifier(runner port.ProcessRunner, ffmpegPath string) *Verifier {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Verifier{runner: runner, ffmpegPath: ffmpegPath}
}

func (v *Verifier) Version(ctx context.Context) (string, error) {
	return VerifyInstalled(ctx, v.runner, v.ffmpegPath)
}

var _ port.TranscoderChecker = (*Verifier)(nil)
