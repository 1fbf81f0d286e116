package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDigestFormat indicates a digest ID whose prefix names no
// supported algorithm.
var ErrUnknownDigestFormat = errors.New("no known digest method")

// Digest ID prefixes. sha256new uses "_" so the ID is usable as a file name
// on every platform; "sha256new=" is accepted on input.
const (
	PrefixSHA1         = "sha1="
	PrefixSHA1New      = "sha1new="
	PrefixSHA256       = "sha256="
	PrefixSHA256New    = "sha256new_"
	prefixSHA256NewAlt = "sha256new="
)

// ManifestDigest holds the hash of one implementation's manifest under one
// or more algorithms. Any single agreeing algorithm identifies the
// implementation.
type ManifestDigest struct {
	SHA1      string `xml:"sha1,attr,omitempty" json:"sha1,omitempty"`
	SHA1New   string `xml:"sha1new,attr,omitempty" json:"sha1new,omitempty"`
	SHA256    string `xml:"sha256,attr,omitempty" json:"sha256,omitempty"`
	SHA256New string `xml:"sha256new,attr,omitempty" json:"sha256new,omitempty"`
}

// ParseManifestDigest builds a digest from a single ID such as
// "sha256new_ABC..." or "sha1new=0123...".
func ParseManifestDigest(id string) (ManifestDigest, error) {
	var d ManifestDigest
	if !d.ParseID(id) {
		return ManifestDigest{}, fmt.Errorf("%w: %q", ErrUnknownDigestFormat, id)
	}
	return d, nil
}

// ParseID fills in the algorithm named by id's prefix unless that slot is
// already set. It reports whether the prefix was recognised.
func (d *ManifestDigest) ParseID(id string) bool {
	set := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	switch {
	case strings.HasPrefix(id, PrefixSHA1New):
		set(&d.SHA1New, id[len(PrefixSHA1New):])
	case strings.HasPrefix(id, PrefixSHA1):
		set(&d.SHA1, id[len(PrefixSHA1):])
	case strings.HasPrefix(id, PrefixSHA256New):
		set(&d.SHA256New, id[len(PrefixSHA256New):])
	case strings.HasPrefix(id, prefixSHA256NewAlt):
		set(&d.SHA256New, id[len(prefixSHA256NewAlt):])
	case strings.HasPrefix(id, PrefixSHA256):
		set(&d.SHA256, id[len(PrefixSHA256):])
	default:
		return false
	}
	return true
}

// IsEmpty reports whether no algorithm is set.
func (d ManifestDigest) IsEmpty() bool {
	return d.SHA1 == "" && d.SHA1New == "" && d.SHA256 == "" && d.SHA256New == ""
}

// AvailableIDs lists the digest IDs present, strongest algorithm first.
func (d ManifestDigest) AvailableIDs() []string {
	ids := make([]string, 0, 4)
	if d.SHA256New != "" {
		ids = append(ids, PrefixSHA256New+d.SHA256New)
	}
	if d.SHA256 != "" {
		ids = append(ids, PrefixSHA256+d.SHA256)
	}
	if d.SHA1New != "" {
		ids = append(ids, PrefixSHA1New+d.SHA1New)
	}
	if d.SHA1 != "" {
		ids = append(ids, PrefixSHA1+d.SHA1)
	}
	return ids
}

// Best returns the ID of the strongest algorithm present, or "" if the
// digest is empty.
func (d ManifestDigest) Best() string {
	ids := d.AvailableIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// PartialEqual reports whether d and other share at least one algorithm
// with the same value and disagree on none.
func (d ManifestDigest) PartialEqual(other ManifestDigest) bool {
	matches := 0
	for _, pair := range [][2]string{
		{d.SHA1, other.SHA1},
		{d.SHA1New, other.SHA1New},
		{d.SHA256, other.SHA256},
		{d.SHA256New, other.SHA256New},
	} {
		if pair[0] == "" || pair[1] == "" {
			continue
		}
		if pair[0] != pair[1] {
			return false
		}
		matches++
	}
	return matches > 0
}

func (d ManifestDigest) String() string {
	return strings.Join(d.AvailableIDs(), ", ")
}
