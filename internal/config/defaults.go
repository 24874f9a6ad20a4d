package config

// Defaults returns a Config with every optional setting filled in.
func Defaults() *Config {
	return &Config{
		SessionName: "forwarder_session",
		SessionDir:  ".",
		LogFile:     "message_filter.log",
		LogLevel:    "info",
	}
}
