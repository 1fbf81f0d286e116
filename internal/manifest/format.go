package manifest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Format selects the hash algorithm, the layout of manifest lines and the
// encoding of the final digest.
type Format struct {
	name      string
	separator string
	newHash   func() hash.Hash
	// legacy formats interleave files and directories and put mtimes on
	// directory lines.
	legacy bool
	base32 bool
}

// Supported formats. SHA1 is only verified, never recommended.
var (
	SHA1      = Format{name: "sha1", separator: "=", newHash: sha1.New, legacy: true}
	SHA1New   = Format{name: "sha1new", separator: "=", newHash: sha1.New}
	SHA256    = Format{name: "sha256", separator: "=", newHash: sha256.New}
	SHA256New = Format{name: "sha256new", separator: "_", newHash: sha256.New, base32: true}
)

// Recommended lists the formats to generate, strongest first.
var Recommended = []Format{SHA256New, SHA256, SHA1New}

var allFormats = []Format{SHA256New, SHA256, SHA1New, SHA1}

// base32 without padding, as used by sha256new.
var digestEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Name returns the algorithm name, e.g. "sha256new".
func (f Format) Name() string { return f.name }

// Prefix returns the digest ID prefix including its separator.
func (f Format) Prefix() string { return f.name + f.separator }

func (f Format) String() string { return f.name }

// IsZero reports whether f is the zero Format.
func (f Format) IsZero() bool { return f.newHash == nil }

// NewHash returns a fresh hash for node contents and the manifest itself.
func (f Format) NewHash() hash.Hash { return f.newHash() }

// encodeDigest renders the hash of a manifest as it appears in a digest ID.
func (f Format) encodeDigest(sum []byte) string {
	if f.base32 {
		return digestEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// ParseFormat looks up a format by its name.
func ParseFormat(name string) (Format, error) {
	for _, f := range allFormats {
		if f.name == name {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// FormatFromPrefix picks the format whose prefix starts id. "sha256new="
// is accepted as an alias for "sha256new_".
func FormatFromPrefix(id string) (Format, error) {
	for _, f := range allFormats {
		if strings.HasPrefix(id, f.Prefix()) {
			return f, nil
		}
	}
	if strings.HasPrefix(id, SHA256New.name+"=") {
		return SHA256New, nil
	}
	return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, id)
}

// DigestValue returns the value of digest d for this format, or "".
func (f Format) DigestValue(d types.ManifestDigest) string {
	switch f.name {
	case SHA1.name:
		return d.SHA1
	case SHA1New.name:
		return d.SHA1New
	case SHA256.name:
		return d.SHA256
	case SHA256New.name:
		return d.SHA256New
	default:
		return ""
	}
}

// SetDigestValue stores value under this format's slot of d.
func (f Format) SetDigestValue(d *types.ManifestDigest, value string) {
	switch f.name {
	case SHA1.name:
		d.SHA1 = value
	case SHA1New.name:
		d.SHA1New = value
	case SHA256.name:
		d.SHA256 = value
	case SHA256New.name:
		d.SHA256New = value
	}
}

// BestFormat returns the strongest format for which d carries a value.
func BestFormat(d types.ManifestDigest) (Format, error) {
	best := d.Best()
	if best == "" {
		return Format{}, fmt.Errorf("%w: empty digest", ErrUnknownFormat)
	}
	return FormatFromPrefix(best)
}
