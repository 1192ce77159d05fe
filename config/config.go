// Package config loads twin's settings from a TOML file and the environment.
// Command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"twin/chat"
)

// Duration decodes TOML strings such as "1.2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Speech-to-text providers. ProviderAuto picks the first with a key.
const (
	ProviderAuto     = ""
	ProviderGroq     = "groq"
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
	ProviderNone     = "none"
)

type Config struct {
	ServerURL      string   `toml:"server_url"`
	Mode           string   `toml:"mode"`
	Level          int      `toml:"level"`
	STTProvider    string   `toml:"stt_provider"`
	Language       string   `toml:"language"`
	Device         string   `toml:"device"`
	StatusInterval Duration `toml:"status_interval"`
	SilenceTimeout Duration `toml:"silence_timeout"`
	DiscardStale   bool     `toml:"discard_stale"`
	ReportDir      string   `toml:"report_dir"`
	FFTSize        int      `toml:"fft_size"`
	Cues           bool     `toml:"cues"`

	// API keys come from the environment only.
	GroqKey     string `toml:"-"`
	OpenAIKey   string `toml:"-"`
	DeepgramKey string `toml:"-"`
}

func Default() *Config {
	return &Config{
		ServerURL:      "http://localhost:8000",
		Mode:           string(chat.ModeHR),
		Level:          int(chat.DefaultLevel),
		Language:       "en",
		StatusInterval: Duration{1200 * time.Millisecond},
		SilenceTimeout: Duration{3 * time.Second},
		ReportDir:      ".",
		FFTSize:        256,
		Cues:           true,
	}
}

// DefaultPath is config.toml under the user config directory.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "twin", "config.toml"), nil
}

// Load decodes path over the defaults. Unknown keys are an error so typos
// don't silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// LoadDefault loads the file at DefaultPath if it exists, defaults otherwise.
func LoadDefault() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("TWIN_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	c.GroqKey = os.Getenv("GROQ_API_KEY")
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.DeepgramKey = os.Getenv("DEEPGRAM_API_KEY")
}

// ResolveProvider returns the configured provider, or for ProviderAuto the
// first one with a key. ProviderNone means dictation is unavailable.
func (c *Config) ResolveProvider() string {
	if c.STTProvider != ProviderAuto {
		return c.STTProvider
	}
	switch {
	case c.GroqKey != "":
		return ProviderGroq
	case c.DeepgramKey != "":
		return ProviderDeepgram
	case c.OpenAIKey != "":
		return ProviderOpenAI
	}
	return ProviderNone
}

// APIKey is the key for provider, empty when unset.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case ProviderGroq:
		return c.GroqKey
	case ProviderOpenAI:
		return c.OpenAIKey
	case ProviderDeepgram:
		return c.DeepgramKey
	}
	return ""
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{"server_url", fmt.Sprintf("%q is not an http(s) URL", c.ServerURL)})
	}
	if _, err := chat.ParseMode(c.Mode); err != nil {
		errs = append(errs, ValidationError{"mode", err.Error()})
	}
	if !chat.Level(c.Level).Valid() {
		errs = append(errs, ValidationError{"level", fmt.Sprintf("%d out of range 0..3", c.Level)})
	}
	switch c.STTProvider {
	case ProviderAuto, ProviderGroq, ProviderOpenAI, ProviderDeepgram, ProviderNone:
	default:
		errs = append(errs, ValidationError{"stt_provider", fmt.Sprintf("unknown provider %q", c.STTProvider)})
	}
	if c.StatusInterval.Duration <= 0 {
		errs = append(errs, ValidationError{"status_interval", "must be positive"})
	}
	if c.SilenceTimeout.Duration < 0 {
		errs = append(errs, ValidationError{"silence_timeout", "must not be negative"})
	}
	if c.FFTSize < 32 || c.FFTSize > 32768 || c.FFTSize&(c.FFTSize-1) != 0 {
		errs = append(errs, ValidationError{"fft_size", fmt.Sprintf("%d is not a power of two in 32..32768", c.FFTSize)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
