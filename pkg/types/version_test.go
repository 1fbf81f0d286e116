package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "single number", input: "1", want: "1"},
		{name: "dotted list", input: "1.2.3", want: "1.2.3"},
		{name: "pre release", input: "1.0-pre3", want: "1.0-pre3"},
		{name: "release candidate", input: "2.0-rc1", want: "2.0-rc1"},
		{name: "post release", input: "1.0-post", want: "1.0-post"},
		{name: "multiple parts", input: "1.0-2-pre1", want: "1.0-2-pre1"},
		{name: "leading zeros normalised", input: "01.002", want: "1.2"},
		{name: "empty", input: "", wantErr: true},
		{name: "leading dash", input: "-1", wantErr: true},
		{name: "letters", input: "1.a", wantErr: true},
		{name: "double dot", input: "1..2", wantErr: true},
		{name: "template variable", input: "{version}", wantErr: true},
		{name: "unknown modifier", input: "1.0-beta", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestVersionOrdering(t *testing.T) {
	// Each version must sort strictly before the next.
	ordered := []string{
		"0.1",
		"1",
		"1.0-pre",
		"1.0-pre1",
		"1.0-pre2",
		"1.0-rc1",
		"1.0",
		"1.0-0",
		"1.0-1",
		"1.0-post",
		"1.0-post1",
		"1.0.1",
		"1.1",
		"2.0-pre1",
		"2.0",
		"10.0",
	}
	for i := 0; i < len(ordered)-1; i++ {
		a, b := MustParseVersion(ordered[i]), MustParseVersion(ordered[i+1])
		assert.Truef(t, a.Less(b), "%s < %s", a, b)
		assert.Falsef(t, b.Less(a), "%s < %s", b, a)
		assert.Equal(t, -1, a.Compare(b))
		assert.Equal(t, 1, b.Compare(a))
	}
}

func TestVersionEqual(t *testing.T) {
	assert.True(t, MustParseVersion("1.2-rc3").Equal(MustParseVersion("1.2-rc3")))
	assert.True(t, MustParseVersion("1.02").Equal(MustParseVersion("1.2")))
	assert.False(t, MustParseVersion("1.0").Equal(MustParseVersion("1")))
	assert.True(t, MustParseVersion("1.0").Equal(MustParseVersion("1.0-")))
	assert.False(t, MustParseVersion("1.0").Equal(MustParseVersion("1.0-0")))
	assert.False(t, MustParseVersion("1.0-pre").Equal(MustParseVersion("1.0")))

	for _, pair := range [][2]string{{"1.0", "1.0-"}, {"2-rc1", "2-rc1-"}, {"1.0", "1.0-0"}, {"3", "3.0"}} {
		a, b := MustParseVersion(pair[0]), MustParseVersion(pair[1])
		assert.Equal(t, a.Compare(b) == 0, a.Equal(b), "%s vs %s", pair[0], pair[1])
		assert.Equal(t, a.Equal(b), MustParseVersionRange(pair[0]).Match(b), "exact range %s on %s", pair[0], pair[1])
	}
	assert.Equal(t, 0, MustParseVersion("1.0").Compare(MustParseVersion("1.0-")))
}

func TestVersionTextRoundTrip(t *testing.T) {
	var v Version
	require.NoError(t, v.UnmarshalText([]byte("3.1-rc2")))
	text, err := v.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "3.1-rc2", string(text))

	require.NoError(t, v.UnmarshalText(nil))
	assert.True(t, v.IsZero())
}
