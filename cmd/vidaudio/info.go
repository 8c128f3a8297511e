package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bnema/vidaudio/internal/adapter/converter/ffmpeg"
	"github.com/bnema/vidaudio/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that ffmpeg can be executed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		version, err := ffmpeg.NewVerifier(ffmpeg.NewRunner(), cfg.FFmpegPath).Version(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", cfg.FFmpegPath, version)
		return nil
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the supported output formats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FORMAT\tMIME TYPE\tDEFAULT")
		for _, f := range domain.SupportedFormats() {
			def := ""
			if strings.EqualFold(cfg.DefaultFormat, string(f)) {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f, f.MIMEType(), def)
		}
		return tw.Flush()
	},
}

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded conversion jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		jobs, err := a.store.ListAll()
		if err != nil {
			return err
		}
		if jobsLimit > 0 && len(jobs) > jobsLimit {
			jobs = jobs[:jobsLimit]
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATE\tFORMAT\tSIZE\tCREATED\tINPUT")
		for _, j := range jobs {
			size := "-"
			if j.State == domain.JobStateDone {
				size = humanize.IBytes(uint64(j.FileSize))
			}
			state := string(j.State)
			if j.ErrorCode != "" {
				state += " (" + string(j.ErrorCode) + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID, state, j.ResolvedFormat, size, humanize.Time(j.CreatedAt), j.OriginalName)
		}
		return tw.Flush()
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove jobs older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.svc.Cleanup(time.Now().UTC())
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired jobs\n", n)
		return err
	},
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Maximum number of jobs to list (0 for all)")
	rootCmd.AddCommand(checkCmd, formatsCmd, jobsCmd, cleanupCmd)
}
