package authcore

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadConfigFile overlays the TOML file at path onto [DefaultConfig] and
// validates the result. Keys the file sets replace defaults; everything else
// keeps its default. Unknown keys are an error.
//
// Durations are written as strings, for example min_failure_duration = "250ms".
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return finishDecode(cfg, md)
}

// DecodeConfig is LoadConfigFile for an in-memory document.
func DecodeConfig(document string) (Config, error) {
	cfg := defaultConfig()
	md, err := toml.Decode(document, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return finishDecode(cfg, md)
}

func finishDecode(cfg Config, md toml.MetaData) (Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// WriteConfig encodes cfg as TOML.
func WriteConfig(w io.Writer, cfg Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
