// internal/config/ini.go
package config

import (
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// iniKey maps one key of the legacy WhistleConfig.ini onto a settings key
type iniKey struct {
	section string
	name    string
	setting string
	isFloat bool
}

// legacyKeys lists every key the legacy INI format requires
var legacyKeys = []iniKey{
	{"Frequencies", "WhistleBegin", "whistle_begin", true},
	{"Frequencies", "WhistleEnd", "whistle_end", true},
	{"Frequencies", "SampleRate", "sample_rate", false},
	{"Time", "WindowSize", "window_size", false},
	{"Time", "WindowSizePadded", "window_size_padded", false},
	{"Time", "WindowSkipping", "window_skipping", false},
	{"Whistle", "Threshold", "threshold", true},
	{"Whistle", "FrameOkays", "frame_okays", false},
	{"Whistle", "FrameMisses", "frame_misses", false},
}

// ReadINI parses a legacy WhistleConfig.ini file and returns its values
// keyed by settings name. All legacy keys are required.
func ReadINI(path string) (map[string]any, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load ini %s: %w", path, err)
	}

	values := make(map[string]any, len(legacyKeys))
	for _, k := range legacyKeys {
		sec := cfg.Section(k.section)
		if !sec.HasKey(k.name) {
			return nil, fmt.Errorf("ini %s: missing %s.%s", path, k.section, k.name)
		}
		key := sec.Key(k.name)
		if k.isFloat {
			v, err := key.Float64()
			if err != nil {
				return nil, fmt.Errorf("ini %s: %s.%s: %w", path, k.section, k.name, err)
			}
			values[k.setting] = v
		} else {
			v, err := key.Int()
			if err != nil {
				return nil, fmt.Errorf("ini %s: %s.%s: %w", path, k.section, k.name, err)
			}
			values[k.setting] = v
		}
	}
	return values, nil
}

// LoadINI reads a legacy WhistleConfig.ini and overrides the matching
// settings. The values override both the config file and flags.
func LoadINI(path string) error {
	values, err := ReadINI(path)
	if err != nil {
		return err
	}
	for k, v := range values {
		viper.Set(k, v)
	}
	return nil
}

// WriteYAML writes values as a settings file at path. It refuses to
// overwrite an existing file unless force is set.
func WriteYAML(values map[string]any, path string, force bool) error {
	v := viper.New()
	v.SetConfigType(ConfigType)
	for k, val := range values {
		v.Set(k, val)
	}
	if force {
		if err := v.WriteConfigAs(path); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		return nil
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
