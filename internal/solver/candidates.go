package solver

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// policyFor returns the stability threshold for uri, honouring a
// per-interface override.
func (r *run) policyFor(uri string) types.Stability {
	return r.opts.Preferences[uri].Policy(r.policy)
}

// stabilityOf rates impl as seen from interface uri: the user's rating if
// there is one, else the feed's.
func (r *run) stabilityOf(uri string, impl *types.Implementation) types.Stability {
	return r.opts.Preferences[uri].EffectiveStability(impl)
}

// assess returns the reason impl cannot be used for a demand, or "" when it
// is suitable. Checks run in a fixed order so the first failing one is the
// note reported.
func (r *run) assess(impl *types.Implementation, d demand) string {
	arch := r.target
	if d.source {
		if impl.Architecture.Cpu != types.CpuSource || !types.IsOSCompatible(impl.Architecture.OS, arch.OS) {
			return types.NoteIncompatibleArch
		}
	} else {
		if impl.Architecture.Cpu == types.CpuSource {
			return types.NoteSourceNotWanted
		}
		if !impl.Architecture.IsCompatible(arch) {
			return types.NoteIncompatibleArch
		}
	}
	if !impl.SupportsLanguages(r.req.Languages) {
		return types.NoteWrongLanguage
	}
	if vr, ok := r.req.ExtraRestrictions[d.uri]; ok && !vr.Match(impl.Version) {
		return types.NoteVersionMismatch
	}

	stability := r.stabilityOf(d.uri, impl)
	policy := r.policyFor(d.uri)
	switch {
	case stability == types.StabilityBuggy && policy > types.StabilityBuggy:
		return types.NoteBuggy
	case stability == types.StabilityInsecure:
		return types.NoteInsecure
	}
	if !impl.ContainsCommand(d.command) {
		return fmt.Sprintf(types.NoteMissingCommand, d.command)
	}
	if r.opts.NetworkUse == types.NetworkOffline && !impl.IsCached(r.contains) {
		return types.NoteNotCachedOffline
	}
	if stability < policy {
		return types.NoteBelowStability
	}
	return ""
}

// rank orders candidates best first: suitable before unsuitable, then
// preferred stability, then meeting the stability policy, then higher
// version, then already cached, then feed order, then ID. The order is
// total so identical inputs always rank identically.
func (r *run) rank(cands []types.SelectionCandidate, order map[*types.Implementation]int, policy types.Stability) {
	slices.SortStableFunc(cands, func(a, b types.SelectionCandidate) int {
		if c := compareBool(a.IsSuitable, b.IsSuitable); c != 0 {
			return c
		}
		if c := compareBool(a.EffectiveStability == types.StabilityPreferred,
			b.EffectiveStability == types.StabilityPreferred); c != 0 {
			return c
		}
		if c := compareBool(a.EffectiveStability >= policy, b.EffectiveStability >= policy); c != 0 {
			return c
		}
		if c := b.Version().Compare(a.Version()); c != 0 {
			return c
		}
		if c := compareBool(a.Implementation.IsCached(r.contains), b.Implementation.IsCached(r.contains)); c != 0 {
			return c
		}
		if c := cmp.Compare(order[a.Implementation], order[b.Implementation]); c != 0 {
			return c
		}
		return strings.Compare(a.Implementation.ID, b.Implementation.ID)
	})
}

// compareBool sorts true before false.
func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

// candidates returns the ranked candidates for a demand. Results are
// memoised per interface and command for the duration of a run.
func (r *run) candidates(d demand) ([]types.SelectionCandidate, error) {
	key := d.key()
	if cands, ok := r.ranked[key]; ok {
		return cands, nil
	}
	impls, err := r.implementations(d.uri)
	if err != nil {
		return nil, err
	}

	cands := make([]types.SelectionCandidate, 0, len(impls))
	order := make(map[*types.Implementation]int, len(impls))
	for i := range impls {
		impl := &impls[i]
		order[impl] = i
		note := r.assess(impl, d)
		cands = append(cands, types.SelectionCandidate{
			FeedURI:            cmp.Or(impl.FromFeed, d.uri),
			Implementation:     impl,
			EffectiveStability: r.stabilityOf(d.uri, impl),
			IsSuitable:         note == "",
			Notes:              note,
		})
	}
	r.rank(cands, order, r.policyFor(d.uri))
	r.ranked[key] = cands
	return cands, nil
}

// implementations fetches the implementation list of uri once per run.
func (r *run) implementations(uri string) ([]types.Implementation, error) {
	if impls, ok := r.feeds[uri]; ok {
		return impls, nil
	}
	var (
		impls []types.Implementation
		err   error
	)
	if r.opts.Refresh {
		impls, err = r.provider.GetFresh(r.ctx, uri)
	} else {
		impls, err = r.provider.GetImplementations(r.ctx, uri)
	}
	if err != nil {
		return nil, err
	}
	r.feeds[uri] = impls
	return impls, nil
}

// describe summarises why no candidate of uri could be used.
func describe(cands []types.SelectionCandidate, conflicts []string) string {
	if len(cands) == 0 {
		return "no implementations available"
	}
	var parts []string
	for _, c := range cands {
		if !c.IsSuitable {
			parts = append(parts, fmt.Sprintf("%s (%s): %s", c.Version(), c.Implementation.ID, c.Notes))
		}
	}
	parts = append(parts, conflicts...)
	return strings.Join(parts, "; ")
}
