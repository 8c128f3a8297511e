package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/validation"
	"github.com/spf13/cobra"
)

var (
	convertInput   string
	convertFormat  string
	convertBitrate string
)

var errConversionFailed = errors.New("conversion failed")

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a local video file",
	Long: `Convert a local video file and print the result as JSON.

The input file is copied into the staging area, so the original is left in
place. The command exits with a non-zero status when the conversion fails.

Example:
  vidaudio convert --input lecture.mkv
  vidaudio convert --input lecture.mkv --format wav --bitrate 320k`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&convertInput, "input", "i", "", "Path to the video file (required)")
	convertCmd.Flags().StringVarP(&convertFormat, "format", "f", "", "Output format (default from config)")
	convertCmd.Flags().StringVarP(&convertBitrate, "bitrate", "b", "", "Audio bitrate such as 192k (default from config)")
	_ = convertCmd.MarkFlagRequired("input")
}

func runConvert(cmd *cobra.Command, _ []string) error {
	if err := validation.ValidateBitrate(convertBitrate); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	desc, err := copyToUpload(convertInput, cfg.StagingDir)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(desc.TempPath) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := a.svc.Convert(ctx, desc, domain.ConversionRequest{
		Format:  convertFormat,
		Bitrate: convertBitrate,
	})

	if err := writeResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: %s (log: %s)", errConversionFailed, result.ErrorCode, result.LogFile)
	}
	return nil
}

// copyToUpload copies the input into dir the way an HTTP upload lands there.
func copyToUpload(input, dir string) (domain.UploadDescriptor, error) {
	src, err := os.Open(input)
	if err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("open input: %w", err)
	}
	defer src.Close() //nolint:errcheck

	info, err := src.Stat()
	if err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("stat input: %w", err)
	}
	if !info.Mode().IsRegular() {
		return domain.UploadDescriptor{}, fmt.Errorf("input %s is not a regular file", input)
	}

	tmp, err := os.CreateTemp(dir, "upload-*.tmp")
	if err != nil {
		return domain.UploadDescriptor{}, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return domain.UploadDescriptor{}, fmt.Errorf("copy input: %w", err)
	}

	return domain.UploadDescriptor{
		OriginalName: filepath.Base(input),
		TempPath:     tmp.Name(),
		Size:         n,
	}, nil
}

func writeResult(w io.Writer, result domain.ConversionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

