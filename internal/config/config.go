// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ColonelBlimp/whistledetector/internal/dsp"
	"github.com/spf13/viper"
)

const (
	AppName       = "whistledetector"
	ConfigType    = "yaml"
	DefaultConfig = `# Whistle Detector Configuration

# Audio device settings
device_index: -1        # -1 for default device
sample_rate: 8000       # Audio sample rate in Hz
channels: 1             # Number of interleaved capture channels
channel_offset: 0       # Channel analysed (0 = first)
buffer_size: 1024       # Frames per read

# Whistle band
whistle_begin: 2000     # Lower edge of the whistle band in Hz
whistle_end: 4000       # Upper edge of the whistle band in Hz (<= sample_rate/2)

# Short time Fourier transform
window_size: 512        # Samples per window
window_size_padded: 1024 # Zero-padded transform length (>= window_size)
window_skipping: 256    # Samples between window starts; above window_size drops samples
window_function: rect   # rect, hann, hamming or blackman

# Detection
threshold: 3.0          # Deviation multiplier k: a bin is a hit above mean + k*stddev
frame_okays: 4          # Consecutive hit frames that confirm a whistle
frame_misses: 2         # Miss frames tolerated before the count resets

# MQTT event sink (empty broker disables it)
mqtt_broker: ""         # e.g. "mqtt://localhost:1883"
mqtt_topic_prefix: "whistledetector"
mqtt_client_id: "whistledetector"

# Output
log_level: info         # debug, info, warn or error
debug: false            # Enable per-frame debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex   int     `mapstructure:"device_index"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	Channels      int     `mapstructure:"channels"`
	ChannelOffset int     `mapstructure:"channel_offset"`
	BufferSize    int     `mapstructure:"buffer_size"`

	// Whistle band
	WhistleBegin float64 `mapstructure:"whistle_begin"`
	WhistleEnd   float64 `mapstructure:"whistle_end"`

	// Short time Fourier transform
	WindowSize       int    `mapstructure:"window_size"`
	WindowSizePadded int    `mapstructure:"window_size_padded"`
	WindowSkipping   int    `mapstructure:"window_skipping"`
	WindowFunction   string `mapstructure:"window_function"`

	// Detection
	Threshold   float64 `mapstructure:"threshold"`
	FrameOkays  int     `mapstructure:"frame_okays"`
	FrameMisses int     `mapstructure:"frame_misses"`

	// MQTT
	MQTTBroker      string `mapstructure:"mqtt_broker"`
	MQTTTopicPrefix string `mapstructure:"mqtt_topic_prefix"`
	MQTTClientID    string `mapstructure:"mqtt_client_id"`

	// Output
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/whistledetector/
func Init() error {
	// Set defaults
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 8000)
	viper.SetDefault("channels", 1)
	viper.SetDefault("channel_offset", 0)
	viper.SetDefault("buffer_size", 1024)
	viper.SetDefault("whistle_begin", 2000)
	viper.SetDefault("whistle_end", 4000)
	viper.SetDefault("window_size", 512)
	viper.SetDefault("window_size_padded", 1024)
	viper.SetDefault("window_skipping", 256)
	viper.SetDefault("window_function", dsp.WindowRect)
	viper.SetDefault("threshold", 3.0)
	viper.SetDefault("frame_okays", 4)
	viper.SetDefault("frame_misses", 2)
	viper.SetDefault("mqtt_broker", "")
	viper.SetDefault("mqtt_topic_prefix", AppName)
	viper.SetDefault("mqtt_client_id", AppName)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug", false)

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 8 {
		errs = append(errs, fmt.Errorf("channels must be between 1 and 8, got %d", s.Channels))
	}
	if s.ChannelOffset < 0 || s.ChannelOffset >= s.Channels {
		errs = append(errs, fmt.Errorf("channel_offset must be between 0 and channels-1, got %d", s.ChannelOffset))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}

	// Short time Fourier transform
	if s.WindowSize < 16 || s.WindowSize > 16384 {
		errs = append(errs, fmt.Errorf("window_size must be between 16 and 16384, got %d", s.WindowSize))
	}
	if s.WindowSizePadded < s.WindowSize || s.WindowSizePadded > 65536 {
		errs = append(errs, fmt.Errorf("window_size_padded must be between window_size and 65536, got %d", s.WindowSizePadded))
	}
	if s.WindowSkipping < 1 {
		errs = append(errs, fmt.Errorf("window_skipping must be positive, got %d", s.WindowSkipping))
	}
	validWindows := map[string]bool{
		dsp.WindowRect:     true,
		dsp.WindowHann:     true,
		dsp.WindowHamming:  true,
		dsp.WindowBlackman: true,
	}
	if !validWindows[s.WindowFunction] {
		errs = append(errs, fmt.Errorf("window_function must be one of rect, hann, hamming, blackman, got %q", s.WindowFunction))
	}

	// Detection
	if s.Threshold < 0 || s.Threshold > 100 {
		errs = append(errs, fmt.Errorf("threshold must be between 0 and 100, got %v", s.Threshold))
	}
	if s.FrameOkays < 1 || s.FrameOkays > 1000 {
		errs = append(errs, fmt.Errorf("frame_okays must be between 1 and 1000, got %d", s.FrameOkays))
	}
	if s.FrameMisses < 0 || s.FrameMisses > 1000 {
		errs = append(errs, fmt.Errorf("frame_misses must be between 0 and 1000, got %d", s.FrameMisses))
	}

	// Whistle band, only meaningful once the transform size is sane
	if s.SampleRate > 0 && s.WindowSizePadded > 0 {
		if _, _, err := s.BinRange(); err != nil {
			errs = append(errs, err)
		}
	}

	// MQTT
	if s.MQTTBroker != "" {
		u, err := url.Parse(s.MQTTBroker)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("mqtt_broker must be a URL such as mqtt://host:1883, got %q", s.MQTTBroker))
		}
		if s.MQTTTopicPrefix == "" {
			errs = append(errs, errors.New("mqtt_topic_prefix must not be empty when mqtt_broker is set"))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[s.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", s.LogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BinRange converts the whistle band to transform bins [begin, end).
// The checks run on the bin-quantized frequencies, which are what the
// detector actually scans.
func (s *Settings) BinRange() (begin, end int, err error) {
	begin = dsp.FrequencyToBin(s.WhistleBegin, s.SampleRate, s.WindowSizePadded)
	end = dsp.FrequencyToBin(s.WhistleEnd, s.SampleRate, s.WindowSizePadded)

	fBegin := s.BinFrequency(begin)
	fEnd := s.BinFrequency(end)
	nyquist := s.SampleRate / 2

	var errs []error
	if fBegin < 0 {
		errs = append(errs, fmt.Errorf("whistle_begin (%v Hz) is below zero", fBegin))
	}
	if fEnd < 0 {
		errs = append(errs, fmt.Errorf("whistle_end (%v Hz) is below zero", fEnd))
	}
	if fBegin > nyquist {
		errs = append(errs, fmt.Errorf("whistle_begin (%v Hz) is above Nyquist frequency (%v Hz)", fBegin, nyquist))
	}
	if fEnd > nyquist {
		errs = append(errs, fmt.Errorf("whistle_end (%v Hz) is above Nyquist frequency (%v Hz)", fEnd, nyquist))
	}
	if fBegin > fEnd {
		errs = append(errs, fmt.Errorf("whistle_begin (%v Hz) is above whistle_end (%v Hz)", fBegin, fEnd))
	} else if begin == end {
		errs = append(errs, fmt.Errorf("whistle band %v-%v Hz is narrower than one bin", s.WhistleBegin, s.WhistleEnd))
	}

	if len(errs) > 0 {
		return 0, 0, errors.Join(errs...)
	}
	return begin, end, nil
}

// BinFrequency returns the frequency in Hz of a transform bin
func (s *Settings) BinFrequency(bin int) float64 {
	return float64(bin) * s.SampleRate / float64(s.WindowSizePadded)
}

// STFTConfig returns the transform engine configuration
func (s *Settings) STFTConfig() dsp.STFTConfig {
	return dsp.STFTConfig{
		ChannelOffset: s.ChannelOffset,
		WindowSize:    s.WindowSize,
		WindowStep:    s.WindowSkipping,
		PaddedSize:    s.WindowSizePadded,
		Window:        s.WindowFunction,
	}
}

// DetectorConfig returns the whistle detector configuration.
// Call Validate first; an invalid band yields an error here.
func (s *Settings) DetectorConfig() (dsp.DetectorConfig, error) {
	begin, end, err := s.BinRange()
	if err != nil {
		return dsp.DetectorConfig{}, err
	}
	return dsp.DetectorConfig{
		SpectrumLength:      s.WindowSizePadded/2 + 1,
		BinBegin:            begin,
		BinEnd:              end,
		DeviationMultiplier: s.Threshold,
		OkayFrames:          s.FrameOkays,
		MissFrames:          s.FrameMisses,
	}, nil
}
