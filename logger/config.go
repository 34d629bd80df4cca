package logger

// Config is the logger configuration, driven by config.Config's LogLevel
// and LogDir rather than hardcoded, so the log destination follows the
// same DB_PATH/LOG_DIR-style environment overrides as the rest of the
// service's configuration.
type Config struct {
	Level string `json:"level"` // Log level: debug, info, warn, error (default: info)
	Dir   string `json:"dir"`   // directory for the daily log file (default: data)
}

// SetDefaults sets default values
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Dir == "" {
		c.Dir = "data"
	}
}
