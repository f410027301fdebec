// internal/config/normalize.go
package config

import "strings"

// Normalize canonicalizes names and trims free-text fields.
// It is allowed to mutate configuration.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Bus.Kind = strings.ToLower(strings.TrimSpace(cfg.Bus.Kind))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.ECU.VIN = strings.ToUpper(strings.TrimSpace(cfg.ECU.VIN))

	// A serial adapter without an explicit rate runs at the usual bridge speed
	if cfg.Bus.Kind == BusSerial && cfg.Bus.BaudRate == 0 {
		cfg.Bus.BaudRate = 115200
	}
}
