package poolcfg

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// mergeTOMLFile parses the TOML document at path into cfg in place.
// Because every field of Config already carries a Default() value,
// unmarshaling directly into *cfg leaves anything the file doesn't
// mention untouched rather than zeroing it out.
func mergeTOMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %w", err)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse TOML: %w", err)
	}
	return nil
}
