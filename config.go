package msclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Defaults applied before any configuration source is read. Sizes are bytes.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultMaxRetry          = 2
	DefaultUploadChunkSize   = 26214400
	DefaultDownloadChunkSize = 26214400
	DefaultUploadMaxFiles    = 100
)

// Config holds every option the client recognizes. Field names map to the
// keys of the JSON/YAML configuration file format.
type Config struct {
	// ServerURL is the base URL of the MediaServer site, without trailing slash.
	ServerURL string `mapstructure:"SERVER_URL" validate:"required"`
	// APIKey authenticates every request. Required.
	APIKey string `mapstructure:"API_KEY" validate:"required"`
	// ClientID names this client as the origin of added media. The literal
	// "<host>" is replaced by the system hostname.
	ClientID string `mapstructure:"CLIENT_ID"`
	// Language is sent as Accept-Language when set.
	Language string `mapstructure:"LANGUAGE"`
	// Timeout bounds each HTTP round trip. Numbers in configuration files are
	// read as seconds.
	Timeout time.Duration `mapstructure:"TIMEOUT"`
	// VerifySSL controls TLS certificate verification.
	VerifySSL bool `mapstructure:"VERIFY_SSL"`
	// Proxies maps URL scheme ("http", "https") to proxy URL. Empty string
	// values disable the proxy for that scheme. Nil means system proxies.
	Proxies map[string]string `mapstructure:"PROXIES"`
	// MaxRetry is how many times a failed request is retried after the first
	// attempt. Only transient transport failures are ever retried. Zero
	// disables retries.
	MaxRetry          int    `mapstructure:"MAX_RETRY" validate:"gte=0"`
	UploadChunkSize   int64  `mapstructure:"UPLOAD_CHUNK_SIZE" validate:"gt=0"`
	DownloadChunkSize int64  `mapstructure:"DOWNLOAD_CHUNK_SIZE" validate:"gt=0"`
	UploadMaxFiles    int    `mapstructure:"UPLOAD_MAX_FILES" validate:"gt=0"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
}

// DefaultConfig returns the built-in defaults. The result is not valid until
// SERVER_URL and API_KEY are filled in.
func DefaultConfig() *Config {
	return &Config{
		ClientID:          "msclient-go_<host>",
		Language:          "en",
		Timeout:           DefaultTimeout,
		VerifySSL:         true,
		MaxRetry:          DefaultMaxRetry,
		UploadChunkSize:   DefaultUploadChunkSize,
		DownloadChunkSize: DefaultDownloadChunkSize,
		UploadMaxFiles:    DefaultUploadMaxFiles,
		LogLevel:          "info",
	}
}

// ConfigSource yields configuration values to overlay onto the defaults.
type ConfigSource interface {
	Load() (map[string]any, error)
}

// FromMap returns a source backed by an in-memory mapping. Keys starting
// with an underscore are ignored.
func FromMap(values map[string]any) ConfigSource {
	return mapSource(values)
}

// FromFile returns a source reading a configuration file. Files ending in
// .yml or .yaml are parsed as YAML, everything else as JSON. JSON files may
// contain lines starting with // which are treated as comments. A missing
// file loads as empty.
func FromFile(path string) ConfigSource {
	return fileSource(path)
}

// FromInstance returns a source reading the settings of a MediaServer
// instance installed under the home directory of the given unix user. It
// yields SERVER_URL and API_KEY.
func FromInstance(user string) ConfigSource {
	return instanceSource(user)
}

type mapSource map[string]any

func (s mapSource) Load() (map[string]any, error) {
	values := make(map[string]any, len(s))
	for key, val := range s {
		if strings.HasPrefix(key, "_") {
			continue
		}
		values[key] = val
	}
	return values, nil
}

type fileSource string

func (s fileSource) Load() (map[string]any, error) {
	content, err := os.ReadFile(string(s))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	values := map[string]any{}
	switch strings.ToLower(filepath.Ext(string(s))) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(content, &values); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", string(s), err)
		}
	default:
		stripped := stripJSONComments(content)
		if len(strings.TrimSpace(string(stripped))) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(stripped, &values); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", string(s), err)
		}
	}
	return values, nil
}

var jsonCommentRe = regexp.MustCompile(`(?m)^\s*//.*$`)

func stripJSONComments(content []byte) []byte {
	return jsonCommentRe.ReplaceAll(content, nil)
}

type instanceSource string

var (
	siteURLRe      = regexp.MustCompile(`SITE_URL\s*=\s*['"](.*)['"]`)
	masterAPIKeyRe = regexp.MustCompile(`MASTER_API_KEY\s*=\s*['"](.*)['"]`)
)

func (s instanceSource) Load() (map[string]any, error) {
	user := strings.TrimSpace(string(s))
	if user == "" {
		return nil, &ConfigError{Message: "no unix user provided for instance lookup"}
	}

	settingsPath := fmt.Sprintf("/home/%s/msinstance/conf/mssettings.py", user)
	content, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to read instance settings %q: %v", settingsPath, err)}
	}

	siteURL := siteURLRe.FindSubmatch(content)
	if siteURL == nil {
		return nil, &ConfigError{Field: "SERVER_URL", Message: "no site URL in instance settings"}
	}
	apiKey := masterAPIKeyRe.FindSubmatch(content)
	if apiKey == nil {
		return nil, &ConfigError{Field: "API_KEY", Message: "no master API key in instance settings"}
	}

	return map[string]any{
		"SERVER_URL": string(siteURL[1]),
		"API_KEY":    string(apiKey[1]),
	}, nil
}

// LoadConfig resolves the given sources in order over the defaults. Later
// sources win. The result is normalized but not yet validated; validation
// happens before the first request.
func LoadConfig(sources ...ConfigSource) (*Config, error) {
	cfg := DefaultConfig()
	for _, source := range sources {
		if source == nil {
			continue
		}
		values, err := source.Load()
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}
		if err := cfg.apply(values); err != nil {
			return nil, &ConfigError{Message: err.Error()}
		}
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) apply(values map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           c,
	})
	if err != nil {
		return err
	}
	return dec.Decode(values)
}

// secondsToDurationHook reads bare numbers as second counts, matching the
// TIMEOUT convention of the configuration file format.
func secondsToDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	}
	return data, nil
}

func (c *Config) normalize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if strings.Contains(c.ClientID, "<host>") {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}
		c.ClientID = strings.ReplaceAll(c.ClientID, "<host>", host)
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
}

// Validate checks that the configuration can produce authenticated requests.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Message: "no configuration loaded"}
	}
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			if fe.Tag() == "required" {
				return &ConfigError{Field: fe.Field(), Message: "value is not set"}
			}
			return &ConfigError{Field: fe.Field(), Message: fmt.Sprintf("failed %q constraint", fe.Tag())}
		}
		return &ConfigError{Message: err.Error()}
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return &ConfigError{Field: "SERVER_URL", Message: "must start with http:// or https://"}
	}
	if c.Language != "" {
		if _, err := language.Parse(c.Language); err != nil {
			return &ConfigError{Field: "LANGUAGE", Message: fmt.Sprintf("unrecognized language tag %q", c.Language)}
		}
	}
	return nil
}

// UpdateConfigFile sets a single key in a JSON configuration file, creating
// the file if needed and preserving the other keys.
func UpdateConfigFile(path, key string, value any) error {
	data := map[string]any{}
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > 0 {
		stripped := stripJSONComments(content)
		if len(strings.TrimSpace(string(stripped))) > 0 {
			if err := json.Unmarshal(stripped, &data); err != nil {
				return fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		}
	}

	data[key] = value
	encoded, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o600)
}
