// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ColonelBlimp/whistledetector/internal/action"
	"github.com/ColonelBlimp/whistledetector/internal/audio"
	"github.com/ColonelBlimp/whistledetector/internal/config"
	"github.com/ColonelBlimp/whistledetector/internal/listener"
	"github.com/ColonelBlimp/whistledetector/internal/recovery"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "whistledetector",
	Short: "Detect whistles in live audio",
	Long: `Listens to an audio capture device, watches a configured frequency band
for a sustained tone standing out of the spectrum, and raises a
WhistleHeard event for each confirmed whistle.

SIGUSR1 pauses listening, SIGUSR2 resumes, SIGINT/SIGTERM stop.`,
	SilenceUsage: true,
	RunE:         runListen,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().Float64P("begin", "b", 2000, "whistle band lower edge in Hz")
	rootCmd.PersistentFlags().Float64P("end", "e", 4000, "whistle band upper edge in Hz")
	rootCmd.PersistentFlags().Float64P("threshold", "t", 3.0, "deviation multiplier for a bin to count as a hit")
	rootCmd.PersistentFlags().String("ini", "", "legacy WhistleConfig.ini overriding the config file")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable per-frame debug output")
}

// flagKeys maps persistent flags to settings keys
var flagKeys = map[string]string{
	"device":    "device_index",
	"begin":     "whistle_begin",
	"end":       "whistle_end",
	"threshold": "threshold",
	"debug":     "debug",
}

func bindFlags() error {
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func initConfig() {
	if err := bindFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if path, _ := rootCmd.PersistentFlags().GetString("ini"); path != "" {
		if err := config.LoadINI(path); err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
	}
}

func runListen(cmd *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), settings)
	out := cmd.OutOrStdout()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	capture := audio.New(audio.Config{
		DeviceIndex: settings.DeviceIndex,
		SampleRate:  uint32(settings.SampleRate),
		Channels:    uint32(settings.Channels),
		BufferSize:  uint32(settings.BufferSize),
	})
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer capture.Close()

	dispatcher := action.NewDispatcher(logger, action.DefaultTimeout, action.NewLogSink(logger, out))
	p, err := newPipeline(settings, dispatcher.Fire, logger)
	if err != nil {
		return err
	}
	l := listener.New(capture, p.feed, logger)
	l.OnResume(p.reset)

	if settings.MQTTBroker != "" {
		sink := action.NewMQTTSink(action.MQTTConfig{
			Broker:      settings.MQTTBroker,
			TopicPrefix: settings.MQTTTopicPrefix,
			ClientID:    settings.MQTTClientID,
		}, l.SetPaused, logger)
		if err := sink.Start(ctx); err != nil {
			return err
		}
		defer sink.Stop()
		dispatcher.Add(sink)
	}

	printBanner(out, settings)

	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio: %w", err)
	}

	if sigs := controlSignals(); len(sigs) > 0 {
		pauseCh := make(chan os.Signal, 1)
		signal.Notify(pauseCh, sigs...)
		defer signal.Stop(pauseCh)
		recovery.Go(func() {
			watchPauseSignals(ctx, pauseCh, l.SetPaused)
		}, func() { _ = capture.Close() })
	}

	fmt.Fprintln(out, "Listening ...")
	err = l.Run(ctx)
	fmt.Fprintln(out, "... stopped listening.")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("done", "whistles", dispatcher.Count(), "dropped_chunks", capture.Dropped())
	return nil
}

// watchPauseSignals applies pause and resume signals until ctx ends
func watchPauseSignals(ctx context.Context, sigs <-chan os.Signal, setPaused func(bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if paused, ok := pauseRequest(sig); ok {
				setPaused(paused)
			}
		}
	}
}
