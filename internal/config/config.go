// Package config loads depot settings from config.yaml and DEPOT_*
// environment variables and turns them into a types.Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/depot/internal/fsutil"
	"github.com/mesh-intelligence/depot/internal/paths"
	"github.com/mesh-intelligence/depot/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	// FileName is the configuration file inside the config directory.
	FileName = "config.yaml"

	envPrefix = "DEPOT"
)

// Config keys.
const (
	KeyStoreDirs       = "store_dirs"
	KeyFeedCacheDir    = "feed_cache_dir"
	KeyStabilityPolicy = "stability_policy"
	KeyHelpWithTesting = "help_with_testing"
	KeyNetworkUse      = "network_use"
	KeyFreshness       = "freshness"
	KeyCaseCheck       = "case_check"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
)

// Default values.
const (
	DefaultStabilityPolicy = "stable"
	DefaultNetworkUse      = string(types.NetworkFull)
	DefaultFreshness       = 30 * 24 * time.Hour
	DefaultCaseCheck       = "auto"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# depot configuration
# Every key can be overridden with a DEPOT_ environment variable,
# e.g. DEPOT_NETWORK_USE=offline or DEPOT_LOG_LEVEL=debug.

# Implementation stores, searched in order; adds go to the first writable one.
# store_dirs: []

# stable, testing, developer, buggy or preferred
stability_policy: stable
help_with_testing: false

# full, minimal or offline
network_use: full

# Age after which cached remote feeds are refetched (0 disables).
freshness: 720h

# Reject implementations with names differing only by case: auto (when the
# store's file system ignores case), on or off.
case_check: auto

# Per-interface overrides: a stability policy for one interface and your own
# ratings of individual implementations.
# interfaces:
#   - uri: https://example.com/tool.xml
#     stability_policy: testing
#     ratings:
#       - id: sha256new_...
#         stability: stable

log:
  level: info
  format: text
`

// Settings mirrors config.yaml.
type Settings struct {
	StoreDirs       []string      `mapstructure:"store_dirs" validate:"required,min=1,dive,required"`
	FeedCacheDir    string        `mapstructure:"feed_cache_dir" validate:"required"`
	StabilityPolicy string        `mapstructure:"stability_policy" validate:"omitempty,oneof=buggy developer testing stable preferred"`
	HelpWithTesting bool          `mapstructure:"help_with_testing"`
	NetworkUse      string        `mapstructure:"network_use" validate:"oneof=offline minimal full"`
	Freshness       time.Duration `mapstructure:"freshness" validate:"gte=0"`
	CaseCheck       string        `mapstructure:"case_check" validate:"omitempty,oneof=auto on off"`
	Log             LogSettings   `mapstructure:"log"`

	Interfaces []InterfaceSettings `mapstructure:"interfaces" validate:"dive"`
}

// InterfaceSettings overrides stability handling for one interface. It is
// a list entry rather than a map value so the URI keeps its case and dots.
type InterfaceSettings struct {
	URI             string           `mapstructure:"uri" yaml:"uri" validate:"required"`
	StabilityPolicy string           `mapstructure:"stability_policy" yaml:"stability_policy,omitempty" validate:"omitempty,oneof=buggy developer testing stable preferred"`
	Ratings         []RatingSettings `mapstructure:"ratings" yaml:"ratings,omitempty" validate:"dive"`
}

// RatingSettings is the user's stability rating of one implementation.
type RatingSettings struct {
	ID        string `mapstructure:"id" yaml:"id" validate:"required"`
	Stability string `mapstructure:"stability" yaml:"stability" validate:"oneof=insecure buggy developer testing stable preferred"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// document is the on-disk layout; durations are written as strings.
type document struct {
	StoreDirs       []string    `yaml:"store_dirs"`
	FeedCacheDir    string      `yaml:"feed_cache_dir"`
	StabilityPolicy string      `yaml:"stability_policy"`
	HelpWithTesting bool        `yaml:"help_with_testing"`
	NetworkUse      string      `yaml:"network_use"`
	Freshness       string      `yaml:"freshness"`
	CaseCheck       string      `yaml:"case_check"`
	Log             LogSettings `yaml:"log"`

	Interfaces []InterfaceSettings `yaml:"interfaces,omitempty"`
}

// MarshalYAML implements yaml.Marshaler.
func (s Settings) MarshalYAML() (any, error) {
	return document{
		StoreDirs:       s.StoreDirs,
		FeedCacheDir:    s.FeedCacheDir,
		StabilityPolicy: s.StabilityPolicy,
		HelpWithTesting: s.HelpWithTesting,
		NetworkUse:      s.NetworkUse,
		Freshness:       s.Freshness.String(),
		CaseCheck:       s.CaseCheck,
		Log:             s.Log,
		Interfaces:      s.Interfaces,
	}, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and then the resulting types.Config.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for i, is := range s.Interfaces {
		if _, err := types.NormalizeInterfaceURI(is.URI); err != nil {
			return fmt.Errorf("%w: interfaces[%d]: %w", ErrInvalid, i, err)
		}
	}
	if err := s.Config().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Config converts the settings for the solver and the store. Call Validate
// first; an unparsable stability policy maps to unset.
func (s *Settings) Config() types.Config {
	policy, _ := types.ParseStability(s.StabilityPolicy)
	return types.Config{
		StoreDirs:       s.StoreDirs,
		FeedCacheDir:    s.FeedCacheDir,
		StabilityPolicy: policy,
		HelpWithTesting: s.HelpWithTesting,
		NetworkUse:      types.NetworkLevel(s.NetworkUse),
		Freshness:       s.Freshness,
		Interfaces:      s.interfacePreferences(),
	}
}

// interfacePreferences folds the interface list into a map keyed by
// normalised URI; later entries for the same URI add to earlier ones.
func (s *Settings) interfacePreferences() map[string]types.InterfacePreferences {
	if len(s.Interfaces) == 0 {
		return nil
	}
	prefs := make(map[string]types.InterfacePreferences, len(s.Interfaces))
	for _, is := range s.Interfaces {
		uri, err := types.NormalizeInterfaceURI(is.URI)
		if err != nil {
			continue
		}
		p := prefs[uri]
		if policy, err := types.ParseStability(is.StabilityPolicy); err == nil && policy != types.StabilityUnset {
			p.StabilityPolicy = policy
		}
		for _, r := range is.Ratings {
			rating, err := types.ParseStability(r.Stability)
			if err != nil {
				continue
			}
			if p.UserStability == nil {
				p.UserStability = make(map[string]types.Stability)
			}
			p.UserStability[r.ID] = rating
		}
		prefs[uri] = p
	}
	return prefs
}

// Defaults returns the settings used when config.yaml sets nothing.
func Defaults() (*Settings, error) {
	storeDir, err := paths.DefaultStoreDir()
	if err != nil {
		return nil, fmt.Errorf("default store dir: %w", err)
	}
	feedDir, err := paths.DefaultFeedCacheDir()
	if err != nil {
		return nil, fmt.Errorf("default feed cache dir: %w", err)
	}
	return &Settings{
		StoreDirs:       []string{storeDir},
		FeedCacheDir:    feedDir,
		StabilityPolicy: DefaultStabilityPolicy,
		NetworkUse:      DefaultNetworkUse,
		Freshness:       DefaultFreshness,
		CaseCheck:       DefaultCaseCheck,
		Log:             LogSettings{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}, nil
}

// Load reads config.yaml from configDir, creating the directory and a
// default file on first run, applies DEPOT_* overrides and validates the
// result.
func Load(configDir string) (*Settings, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v, err := newViper(configDir)
	if err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func newViper(configDir string) (*viper.Viper, error) {
	d, err := Defaults()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetDefault(KeyStoreDirs, d.StoreDirs)
	v.SetDefault(KeyFeedCacheDir, d.FeedCacheDir)
	v.SetDefault(KeyStabilityPolicy, d.StabilityPolicy)
	v.SetDefault(KeyHelpWithTesting, d.HelpWithTesting)
	v.SetDefault(KeyNetworkUse, d.NetworkUse)
	v.SetDefault(KeyFreshness, d.Freshness)
	v.SetDefault(KeyCaseCheck, d.CaseCheck)
	v.SetDefault(KeyLogLevel, d.Log.Level)
	v.SetDefault(KeyLogFormat, d.Log.Format)

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// ensureDefaultConfigFile creates a default config.yaml if none exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, FileName)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return fsutil.WriteBytesAtomic(path, []byte(defaultConfigYAML), 0o644)
}

// Write stores s as config.yaml in configDir, replacing any existing file.
func Write(configDir string, s *Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	return fsutil.WriteBytesAtomic(filepath.Join(configDir, FileName), data, 0o644)
}
