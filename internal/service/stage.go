package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/bnema/vidaudio/internal/infrastructure/logger"
)

// stageUpload moves src to dst. A rename across filesystems falls back to
// copy and remove.
func stageUpload(src, dst string) error {
	if src == "" {
		return errors.New("upload has no temporary path")
	}

	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	return copyAndRemove(src, dst)
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("sync staged file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	if err := os.Remove(src); err != nil {
		logger.Warn.Printf("staged copy kept source %s: %v", logger.SanitizeForLog(src), err)
	}
	return nil
}
