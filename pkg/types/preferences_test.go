package types

import "testing"

func TestInterfacePreferences(t *testing.T) {
	prefs := InterfacePreferences{
		StabilityPolicy: StabilityDeveloper,
		UserStability:   map[string]Stability{"a": StabilityStable, "b": StabilityUnset},
	}
	tests := []struct {
		name string
		impl Implementation
		want Stability
	}{
		{"user rating overrides feed", Implementation{ID: "a", Stability: StabilityTesting}, StabilityStable},
		{"unset user rating falls back", Implementation{ID: "b", Stability: StabilityBuggy}, StabilityBuggy},
		{"unrated uses feed", Implementation{ID: "c", Stability: StabilityPreferred}, StabilityPreferred},
		{"unset everywhere is testing", Implementation{ID: "d"}, StabilityTesting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := prefs.EffectiveStability(&tt.impl); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if got := prefs.Policy(StabilityStable); got != StabilityDeveloper {
		t.Fatalf("expected interface policy developer, got %v", got)
	}
	if got := (InterfacePreferences{}).Policy(StabilityStable); got != StabilityStable {
		t.Fatalf("expected global policy stable, got %v", got)
	}
}
