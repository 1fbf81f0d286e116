package types

// Candidate notes explain why an implementation was rejected.
const (
	NoteSourceNotWanted    = "source code, not a binary"
	NoteIncompatibleArch   = "incompatible architecture"
	NoteWrongLanguage      = "wrong language"
	NoteVersionMismatch    = "version mismatch"
	NoteBuggy              = "marked buggy"
	NoteInsecure           = "marked insecure"
	NoteMissingCommand     = "no command %q"
	NoteNotCachedOffline   = "not cached and offline"
	NoteBelowStability     = "below stability policy"
	NoteConflictRestricted = "conflicts with restrictions"
	NoteConflictSelected   = "conflicts with selected implementations"
)

// SelectionCandidate annotates an implementation with its suitability for a
// particular set of requirements. Notes are for diagnostics only.
type SelectionCandidate struct {
	FeedURI            string          `json:"feed"`
	Implementation     *Implementation `json:"implementation"`
	EffectiveStability Stability       `json:"effective_stability"`
	IsSuitable         bool            `json:"suitable"`
	Notes              string          `json:"notes,omitempty"`
}

// Version is a shortcut for the implementation's version.
func (c SelectionCandidate) Version() Version { return c.Implementation.Version }
