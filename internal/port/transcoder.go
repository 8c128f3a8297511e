package port

import (
	"context"

	"github.com/bnema/vidaudio/internal/domain"
)

// CommandBuilder maps an output format to a transcoder invocation.
type CommandBuilder interface {
	Resolve(format string) domain.Format
	Build(inputPath, outputPath, format, bitrate string) domain.Invocation
}

// ProcessRunner executes an invocation and returns its exit status together
// with stdout and stderr merged in write order. A non-nil error means the
// process could not be started or was killed because ctx ended.
type ProcessRunner interface {
	Run(ctx context.Context, inv domain.Invocation) (exitStatus int, output string, err error)
}

// TranscoderChecker reports whether the transcoder can be executed.
type TranscoderChecker interface {
	Version(ctx context.Context) (string, error)
}
