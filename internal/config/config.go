package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"msgfilter/internal/pattern"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvAPIID              = "API_ID"
	EnvAPIHash            = "API_HASH"
	EnvSourceChatID       = "SOURCE_CHAT_ID"
	EnvDestinationChatID  = "DESTINATION_CHAT_ID"
	EnvSessionName        = "SESSION_NAME"
	EnvFilterPatterns     = "FILTER_PATTERNS"
	EnvFilterPatternsFile = "FILTER_PATTERNS_FILE"
	EnvSessionDir         = "SESSION_DIR"
	EnvBotToken           = "BOT_TOKEN"
	EnvPhone              = "TG_PHONE"
	EnvPassword           = "TG_PASSWORD"
	EnvLogFile            = "LOG_FILE"
	EnvLogLevel           = "LOG_LEVEL"
)

// DefaultEnvFile is loaded before reading the environment when present.
const DefaultEnvFile = ".env"

// Config is the process-wide relay configuration. It is built once by Load
// and never mutated afterwards.
type Config struct {
	APIID             int    `json:"apiId"`
	APIHash           string `json:"apiHash"`
	SourceChatID      int64  `json:"sourceChatId"`
	DestinationChatID int64  `json:"destinationChatId"`
	SessionName       string `json:"sessionName"`
	SessionDir        string `json:"sessionDir"`

	// Patterns holds the compiled FILTER_PATTERNS followed by the templates
	// from PatternsFile. Empty means nothing is ever forwarded.
	Patterns     pattern.Set `json:"-"`
	PatternsFile string      `json:"patternsFile,omitempty"`

	BotToken string `json:"botToken,omitempty"` // non-empty selects the Bot API transport
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password,omitempty"`

	LogFile  string `json:"logFile"`
	LogLevel string `json:"logLevel"`
}

// LookupFunc reads one environment value. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Error reports missing or malformed settings. It is always fatal.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration:\n  - "+strings.Join(e.Invalid, "\n  - "))
	}
	return strings.Join(parts, "; ")
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set keep their value. A missing default .env
// file is not an error.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration through lookup, compiles the filter patterns
// and validates everything. The returned error is a *Error for every
// configuration problem.
func Load(lookup LookupFunc) (*Config, error) {
	cfg := Defaults()

	required := []string{EnvAPIID, EnvAPIHash, EnvSourceChatID, EnvDestinationChatID}
	values := make(map[string]string, len(required))
	var missing []string
	for _, key := range required {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			missing = append(missing, key)
			continue
		}
		values[key] = v
	}
	if len(missing) > 0 {
		return nil, &Error{Missing: missing}
	}

	var invalid []string
	var err error
	if cfg.APIID, err = strconv.Atoi(values[EnvAPIID]); err != nil {
		invalid = append(invalid, fmt.Sprintf("%s: %q is not an integer", EnvAPIID, values[EnvAPIID]))
	}
	cfg.APIHash = values[EnvAPIHash]
	if cfg.SourceChatID, err = strconv.ParseInt(values[EnvSourceChatID], 10, 64); err != nil {
		invalid = append(invalid, fmt.Sprintf("%s: %q is not an integer", EnvSourceChatID, values[EnvSourceChatID]))
	}
	if cfg.DestinationChatID, err = strconv.ParseInt(values[EnvDestinationChatID], 10, 64); err != nil {
		invalid = append(invalid, fmt.Sprintf("%s: %q is not an integer", EnvDestinationChatID, values[EnvDestinationChatID]))
	}

	setString(lookup, EnvSessionName, &cfg.SessionName)
	setString(lookup, EnvSessionDir, &cfg.SessionDir)
	setString(lookup, EnvBotToken, &cfg.BotToken)
	setString(lookup, EnvPhone, &cfg.Phone)
	setString(lookup, EnvPassword, &cfg.Password)
	setString(lookup, EnvLogFile, &cfg.LogFile)
	setString(lookup, EnvLogLevel, &cfg.LogLevel)
	setString(lookup, EnvFilterPatternsFile, &cfg.PatternsFile)

	patterns, err := LoadPatterns(lookup)
	if err != nil {
		invalid = append(invalid, err.Error())
	}
	cfg.Patterns = patterns
	cfg.PatternsFile = ExpandPath(cfg.PatternsFile)
	cfg.SessionDir = ExpandPath(cfg.SessionDir)
	cfg.LogFile = ExpandPath(cfg.LogFile)

	if err := Validate(cfg); err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			invalid = append(invalid, cerr.Invalid...)
		}
	}

	if len(invalid) > 0 {
		return nil, &Error{Invalid: invalid}
	}
	return cfg, nil
}

// LoadPatterns compiles FILTER_PATTERNS and, when FILTER_PATTERNS_FILE is
// set, the templates listed in that YAML file. It needs no credentials, so
// the CLI uses it for dry runs.
func LoadPatterns(lookup LookupFunc) (pattern.Set, error) {
	raw, _ := lookup(EnvFilterPatterns)
	templates := pattern.ParseTemplates(raw)

	if path, ok := lookup(EnvFilterPatternsFile); ok && strings.TrimSpace(path) != "" {
		fromFile, err := ReadPatternsFile(ExpandPath(strings.TrimSpace(path)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvFilterPatternsFile, err)
		}
		templates = append(templates, fromFile...)
	}

	set, err := pattern.CompileAll(templates)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvFilterPatterns, err)
	}
	return set, nil
}

// patternsFile is the YAML layout of FILTER_PATTERNS_FILE.
type patternsFile struct {
	Patterns []string `yaml:"patterns"`
}

// ReadPatternsFile reads templates from a YAML document of the form
//
//	patterns:
//	  - "✅ CURITIBA: PASSAPORTE"
//	  - "✅ RIO: VISTO"
func ReadPatternsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read patterns file %s: %w", path, err)
	}
	var pf patternsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("cannot parse patterns file %s: %w", path, err)
	}
	var out []string
	for _, p := range pf.Patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Validate checks the ambient settings. Required values are checked by Load.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.APIID <= 0 {
		errs = append(errs, fmt.Sprintf("%s must be a positive integer", EnvAPIID))
	}
	if strings.TrimSpace(cfg.SessionName) == "" {
		errs = append(errs, fmt.Sprintf("%s must not be empty", EnvSessionName))
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", EnvLogLevel, err))
	}

	if len(errs) > 0 {
		return &Error{Invalid: errs}
	}
	return nil
}

// ParseLogLevel maps debug|info|warn|error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// SessionPath is the session database file for SessionName.
func (c *Config) SessionPath() string {
	name := c.SessionName
	if !strings.HasSuffix(name, ".session") {
		name += ".session"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.SessionDir, name)
}

// UseBotAPI reports whether the Bot API transport was selected.
func (c *Config) UseBotAPI() bool {
	return c.BotToken != ""
}

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	copy.APIHash = maskString(copy.APIHash)
	if copy.BotToken != "" {
		copy.BotToken = maskString(copy.BotToken)
	}
	if copy.Password != "" {
		copy.Password = "***"
	}
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func setString(lookup LookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
