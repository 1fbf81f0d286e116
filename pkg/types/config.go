package types

import (
	"errors"
	"fmt"
	"time"
)

// NetworkLevel controls how eagerly the system goes online.
type NetworkLevel string

// Network levels.
const (
	NetworkOffline NetworkLevel = "offline"
	NetworkMinimal NetworkLevel = "minimal"
	NetworkFull    NetworkLevel = "full"
)

// Config is the immutable configuration handed to the solver and the store.
// Nothing in the core reads configuration from global state.
type Config struct {
	StoreDirs       []string      `json:"store_dirs" yaml:"store_dirs"`
	FeedCacheDir    string        `json:"feed_cache_dir" yaml:"feed_cache_dir"`
	StabilityPolicy Stability     `json:"stability_policy" yaml:"stability_policy"`
	HelpWithTesting bool          `json:"help_with_testing" yaml:"help_with_testing"`
	NetworkUse      NetworkLevel  `json:"network_use" yaml:"network_use"`
	Freshness       time.Duration `json:"freshness" yaml:"freshness"`

	// Interfaces holds per-interface overrides keyed by interface URI.
	Interfaces map[string]InterfacePreferences `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
}

// Config validation errors.
var (
	ErrNoStoreDirs            = errors.New("at least one store directory is required")
	ErrStoreDirEmpty          = errors.New("store directory must not be empty")
	ErrNetworkUseUnknown      = errors.New("unknown network use level")
	ErrFreshnessInvalid       = errors.New("freshness must not be negative")
	ErrStabilityPolicyInvalid = errors.New("stability policy must not be insecure")
)

var knownNetworkLevels = map[NetworkLevel]bool{
	NetworkOffline: true,
	NetworkMinimal: true,
	NetworkFull:    true,
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if len(c.StoreDirs) == 0 {
		return ErrNoStoreDirs
	}
	for i, dir := range c.StoreDirs {
		if dir == "" {
			return fmt.Errorf("store_dirs[%d]: %w", i, ErrStoreDirEmpty)
		}
	}
	if !knownNetworkLevels[c.NetworkUse] {
		return ErrNetworkUseUnknown
	}
	if c.Freshness < 0 {
		return ErrFreshnessInvalid
	}
	if c.StabilityPolicy == StabilityInsecure {
		return ErrStabilityPolicyInvalid
	}
	for uri, p := range c.Interfaces {
		if p.StabilityPolicy == StabilityInsecure {
			return fmt.Errorf("interfaces[%s]: %w", uri, ErrStabilityPolicyInvalid)
		}
	}
	return nil
}

// EffectiveStabilityPolicy resolves an unset policy: Testing when helping
// with testing, Stable otherwise.
func (c Config) EffectiveStabilityPolicy() Stability {
	if c.StabilityPolicy != StabilityUnset {
		return c.StabilityPolicy
	}
	if c.HelpWithTesting {
		return StabilityTesting
	}
	return StabilityStable
}
