package main

import (
	"fmt"
	"os"

	"github.com/bnema/vidaudio/config"
	"github.com/bnema/vidaudio/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vidaudio",
	Short: "Convert uploaded videos to audio files with ffmpeg",
	Long: `vidaudio extracts the audio track of a video file with ffmpeg.

It runs as an HTTP service accepting uploads, or converts a single local
file from the command line. Every conversion gets a job id and an audit log.

Example:
  vidaudio serve
  vidaudio convert --input talk.mp4 --format ogg --bitrate 128k`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
}

// loadConfig resolves the configuration and applies the logging settings.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("CONFIG_FILE", cfgFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Setup(os.Stdout, cfg.Debug)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
