package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArchitecture(t *testing.T) {
	tests := []struct {
		input   string
		want    Architecture
		wantErr bool
	}{
		{input: "", want: Architecture{}},
		{input: "*-*", want: Architecture{OS: OSAll, Cpu: CpuAll}},
		{input: "Linux-x86_64", want: Architecture{OS: OSLinux, Cpu: CpuX64}},
		{input: "Windows-i686", want: Architecture{OS: OSWindows, Cpu: CpuI686}},
		{input: "*-src", want: Architecture{OS: OSAll, Cpu: CpuSource}},
		{input: "Plan9-mips", want: Architecture{OS: OSUnknown, Cpu: CpuUnknown}},
		{input: "Linux", wantErr: true},
		{input: "Linux-x86-64", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseArchitecture(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidArchitecture)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArchitectureIsCompatible(t *testing.T) {
	tests := []struct {
		impl   string
		system string
		want   bool
	}{
		{"*-*", "Linux-x86_64", true},
		{"Linux-*", "Linux-i686", true},
		{"Linux-x86_64", "Linux-x86_64", true},
		{"Linux-i686", "Linux-x86_64", true},
		{"Linux-i386", "Linux-i686", true},
		{"Linux-x86_64", "Linux-i686", false},
		{"Windows-*", "Linux-x86_64", false},
		{"Windows-i686", "Cygwin-i686", true},
		{"Darwin-*", "MacOSX-x86_64", true},
		{"MacOSX-*", "Darwin-x86_64", false},
		{"POSIX-*", "Linux-x86_64", true},
		{"POSIX-*", "FreeBSD-x86_64", true},
		{"POSIX-*", "Windows-x86_64", false},
		{"Linux-ppc", "Linux-ppc64", true},
		{"Linux-armv6l", "Linux-armv7l", true},
		{"Linux-src", "Linux-x86_64", false},
		{"*-src", "*-src", true},
		{"unknown-*", "Linux-x86_64", false},
	}
	for _, tt := range tests {
		t.Run(tt.impl+" on "+tt.system, func(t *testing.T) {
			impl, err := ParseArchitecture(tt.impl)
			require.NoError(t, err)
			system, err := ParseArchitecture(tt.system)
			require.NoError(t, err)
			assert.Equal(t, tt.want, impl.IsCompatible(system))
		})
	}
}

func TestArchitectureStringRoundTrip(t *testing.T) {
	for _, s := range []string{"*-*", "Linux-x86_64", "MacOSX-aarch64", "*-src"} {
		a, err := ParseArchitecture(s)
		require.NoError(t, err)
		assert.Equal(t, s, a.String())
	}
}

func TestArchitectureEffective(t *testing.T) {
	current := CurrentArchitecture()
	assert.Equal(t, current, Architecture{}.Effective())
	assert.Equal(t, Architecture{OS: current.OS, Cpu: CpuSource}, Architecture{Cpu: CpuSource}.Effective())
}

func TestParseStability(t *testing.T) {
	for _, s := range []Stability{StabilityUnset, StabilityInsecure, StabilityBuggy, StabilityDeveloper, StabilityTesting, StabilityStable, StabilityPreferred} {
		got, err := ParseStability(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStability("rock-solid")
	require.ErrorIs(t, err, ErrInvalidStability)
	assert.True(t, StabilityBuggy < StabilityTesting)
	assert.True(t, StabilityStable < StabilityPreferred)
}
