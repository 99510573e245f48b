// cmd/analyze.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ColonelBlimp/whistledetector/internal/action"
	"github.com/ColonelBlimp/whistledetector/internal/audio"
	"github.com/ColonelBlimp/whistledetector/internal/config"
	"github.com/ColonelBlimp/whistledetector/internal/listener"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.wav>",
	Short: "Run whistle detection over a 16-bit PCM WAV file",
	Long: `Replays a WAV recording through the same pipeline used for live audio.
The file's sample rate and channel count replace the configured ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	wav, err := audio.OpenWAV(args[0], settings.BufferSize)
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer wav.Close()

	settings.SampleRate = float64(wav.SampleRate())
	settings.Channels = wav.Channels()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid config for %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	logger := newLogger(cmd.ErrOrStderr(), settings)

	dispatcher := action.NewDispatcher(logger, action.DefaultTimeout, action.NewLogSink(logger, out))
	p, err := newPipeline(settings, dispatcher.Fire, logger)
	if err != nil {
		return err
	}

	printBanner(out, settings)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := listener.New(wav, p.feed, logger).Run(ctx); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	fmt.Fprintf(out, "%d whistle(s) heard in %s\n", dispatcher.Count(), args[0])
	return nil
}
