package types

// InterfacePreferences holds the user's overrides for one interface.
type InterfacePreferences struct {
	// StabilityPolicy replaces the global policy for this interface when set.
	StabilityPolicy Stability `json:"stability_policy,omitempty" yaml:"stability_policy,omitempty"`

	// UserStability rates implementations by ID, replacing the rating
	// their feed declares.
	UserStability map[string]Stability `json:"user_stability,omitempty" yaml:"user_stability,omitempty"`
}

// Policy returns the interface's policy, or global when none is set.
func (p InterfacePreferences) Policy(global Stability) Stability {
	if p.StabilityPolicy != StabilityUnset {
		return p.StabilityPolicy
	}
	return global
}

// EffectiveStability returns the user's rating of impl if there is one,
// otherwise the feed's rating, with an unset rating treated as testing.
func (p InterfacePreferences) EffectiveStability(impl *Implementation) Stability {
	if s, ok := p.UserStability[impl.ID]; ok && s != StabilityUnset {
		return s
	}
	if impl.Stability == StabilityUnset {
		return StabilityTesting
	}
	return impl.Stability
}
