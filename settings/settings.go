package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	azsync "github.com/ghyeongl/azlassets/sync"
)

// DefaultPath is the config file used when none is given, relative to the
// working directory.
const DefaultPath = "config/user_config.yml"

// EnvPrefix prefixes environment overrides, e.g. AZLASSETS_USERAGENT.
const EnvPrefix = "AZLASSETS"

// ErrInvalid marks configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Concurrency bounds the fan-out of downloads and file hashing.
type Concurrency struct {
	Downloads int `mapstructure:"downloads" yaml:"downloads"`
	Hashing   int `mapstructure:"hashing" yaml:"hashing"`
}

// Client holds the per-client endpoints.
type Client struct {
	CDNURL      string `mapstructure:"cdnurl" yaml:"cdnurl"`
	VersionFeed string `mapstructure:"version-feed" yaml:"version-feed"`
}

// Settings is the user configuration.
type Settings struct {
	UserAgent      string            `mapstructure:"useragent" yaml:"useragent"`
	AssetDirectory string            `mapstructure:"asset-directory" yaml:"asset-directory"`
	FilterMode     string            `mapstructure:"download-folder-listtype" yaml:"download-folder-listtype"`
	FilterList     []string          `mapstructure:"download-folder-list" yaml:"download-folder-list"`
	LogDirectory   string            `mapstructure:"log-directory" yaml:"log-directory"`
	LogLevel       string            `mapstructure:"log-level" yaml:"log-level"`
	Concurrency    Concurrency       `mapstructure:"concurrency" yaml:"concurrency"`
	Clients        map[string]Client `mapstructure:"clients" yaml:"clients"`
}

// Defaults returns the settings written to a fresh template.
func Defaults() Settings {
	clients := make(map[string]Client, len(azsync.Clients))
	for _, c := range azsync.Clients {
		clients[c.Name] = Client{}
	}
	return Settings{
		AssetDirectory: "ClientAssets",
		FilterMode:     string(azsync.FilterBlacklist),
		FilterList:     []string{},
		LogLevel:       "info",
		Concurrency: Concurrency{
			Downloads: azsync.DefaultDownloadLimit,
			Hashing:   azsync.DefaultHashLimit,
		},
		Clients: clients,
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("useragent", d.UserAgent)
	v.SetDefault("asset-directory", d.AssetDirectory)
	v.SetDefault("download-folder-listtype", d.FilterMode)
	v.SetDefault("download-folder-list", d.FilterList)
	v.SetDefault("log-directory", d.LogDirectory)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("concurrency.downloads", d.Concurrency.Downloads)
	v.SetDefault("concurrency.hashing", d.Concurrency.Hashing)
}

// Load reads the YAML config at path, writing the default template first
// when the file does not exist. Environment variables prefixed with
// EnvPrefix override file values and flags, when given, override both.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	if path == "" {
		path = DefaultPath
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand config path: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file does not exist, writing template; setting a useragent is advised", "path", path)
		if err := WriteTemplate(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// WriteTemplate writes the default settings as YAML to path.
func WriteTemplate(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

func (s *Settings) normalize() error {
	var err error
	if s.AssetDirectory, err = homedir.Expand(s.AssetDirectory); err != nil {
		return fmt.Errorf("%w: asset-directory: %v", ErrInvalid, err)
	}
	if s.LogDirectory, err = homedir.Expand(s.LogDirectory); err != nil {
		return fmt.Errorf("%w: log-directory: %v", ErrInvalid, err)
	}
	for name, c := range s.Clients {
		if c.VersionFeed, err = homedir.Expand(c.VersionFeed); err != nil {
			return fmt.Errorf("%w: clients.%s.version-feed: %v", ErrInvalid, name, err)
		}
		s.Clients[name] = c
	}
	return nil
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	if s.AssetDirectory == "" {
		return fmt.Errorf("%w: asset-directory is required", ErrInvalid)
	}
	if _, err := azsync.ParseFilterMode(s.FilterMode); err != nil {
		return fmt.Errorf("%w: download-folder-listtype: %v", ErrInvalid, err)
	}
	if s.Concurrency.Downloads <= 0 {
		return fmt.Errorf("%w: concurrency.downloads must be positive", ErrInvalid)
	}
	if s.Concurrency.Hashing <= 0 {
		return fmt.Errorf("%w: concurrency.hashing must be positive", ErrInvalid)
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		return err
	}
	for name := range s.Clients {
		if _, ok := azsync.ClientFromName(name); !ok {
			return fmt.Errorf("%w: unknown client %q", ErrInvalid, name)
		}
	}
	return nil
}

// Client returns the endpoints configured for the named client.
func (s *Settings) Client(name string) (Client, error) {
	for key, c := range s.Clients {
		if strings.EqualFold(key, name) {
			if c.CDNURL == "" {
				return c, fmt.Errorf("%w: clients.%s.cdnurl is not set", ErrInvalid, name)
			}
			return c, nil
		}
	}
	return Client{}, fmt.Errorf("%w: client %s has not been configured", ErrInvalid, name)
}

// ClientDir is the asset store root of the named client.
func (s *Settings) ClientDir(name string) string {
	return filepath.Join(s.AssetDirectory, name)
}

// Filter builds the download path filter.
func (s *Settings) Filter() *azsync.PathFilter {
	mode, err := azsync.ParseFilterMode(s.FilterMode)
	if err != nil {
		mode = azsync.FilterBlacklist
	}
	return azsync.NewPathFilter(mode, s.FilterList)
}

// Level returns the configured log level.
func (s *Settings) Level() slog.Level {
	level, _ := ParseLevel(s.LogLevel)
	return level
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log-level %q (must be debug, info, warn or error)", ErrInvalid, name)
}
