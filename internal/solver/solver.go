// Package solver selects one implementation per interface for a set of
// requirements, backtracking over ranked candidates until every essential
// dependency is satisfied.
package solver

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// DefaultMaxSteps bounds the number of candidates tried in one solve.
const DefaultMaxSteps = 100_000

// FeedProvider supplies the implementations of an interface, including
// those contributed by its sub-feeds.
type FeedProvider interface {
	GetImplementations(ctx context.Context, uri string) ([]types.Implementation, error)
	// GetFresh bypasses any cache.
	GetFresh(ctx context.Context, uri string) ([]types.Implementation, error)
}

// StoreChecker reports whether an implementation is already stored. It
// only influences ranking.
type StoreChecker interface {
	Contains(digest types.ManifestDigest) bool
}

// Options control a solve. The zero value uses a stable policy, full
// network use and no store.
type Options struct {
	StabilityPolicy types.Stability
	HelpWithTesting bool
	NetworkUse      types.NetworkLevel
	Store           StoreChecker
	// Preferences holds per-interface overrides keyed by interface URI:
	// a stability policy and user ratings of individual implementations.
	Preferences map[string]types.InterfacePreferences
	// Refresh asks the provider for fresh feeds.
	Refresh  bool
	MaxSteps int
	Logger   *slog.Logger
}

// OptionsFromConfig copies the solver settings out of cfg.
func OptionsFromConfig(cfg types.Config, store StoreChecker) Options {
	return Options{
		StabilityPolicy: cfg.StabilityPolicy,
		HelpWithTesting: cfg.HelpWithTesting,
		NetworkUse:      cfg.NetworkUse,
		Preferences:     cfg.Interfaces,
		Store:           store,
	}
}

// Solver resolves requirements against a FeedProvider. It holds no state
// between solves and is safe for concurrent use.
type Solver struct {
	provider FeedProvider
	opts     Options
}

// New returns a Solver.
func New(provider FeedProvider, opts Options) *Solver {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Solver{provider: provider, opts: opts}
}

// Solve picks implementations for req and everything it depends on.
// req.InterfaceURI must already be normalised. Feed errors are returned
// unchanged; an unsatisfiable request yields a *types.SolverError.
func (s *Solver) Solve(ctx context.Context, req types.Requirements) (*types.Selections, error) {
	r := s.newRun(ctx, req)
	root := r.rootDemand()

	ok, err := r.solve([]demand{root})
	if err != nil {
		return nil, err
	}
	if !ok {
		if r.failure != nil {
			return nil, r.failure
		}
		return nil, &types.SolverError{InterfaceURI: root.uri, Reason: "no combination of implementations satisfies the requirements"}
	}
	sels := r.selections(root)
	s.opts.Logger.Debug("solved", "interface", root.uri, "selections", len(sels.Implementations), "steps", r.steps)
	return sels, nil
}

// Candidates lists every implementation of the requested interface, best
// first, annotated with why unsuitable ones were rejected.
func (s *Solver) Candidates(ctx context.Context, req types.Requirements) ([]types.SelectionCandidate, error) {
	r := s.newRun(ctx, req)
	return r.candidates(r.rootDemand())
}

// demand asks for some implementation of uri offering command.
type demand struct {
	uri       string
	command   string
	source    bool
	essential bool
}

func (d demand) key() string {
	if d.source {
		return d.uri + "\x00" + d.command + "\x00src"
	}
	return d.uri + "\x00" + d.command
}

// selection is the state kept for a chosen interface.
type selection struct {
	impl       *types.Implementation
	candidates []types.SelectionCandidate
	commands   []string
}

// run is the mutable state of one solve.
type run struct {
	ctx      context.Context
	provider FeedProvider
	opts     Options
	req      types.Requirements
	target   types.Architecture
	policy   types.Stability
	contains func(types.ManifestDigest) bool

	feeds  map[string][]types.Implementation
	ranked map[string][]types.SelectionCandidate

	selected     map[string]*selection
	restrictions map[string]types.Restrictions
	undo         []func()

	steps   int
	failure *types.SolverError
}

func (s *Solver) newRun(ctx context.Context, req types.Requirements) *run {
	req = req.Effective()
	policy := s.opts.StabilityPolicy
	if policy == types.StabilityUnset {
		policy = types.StabilityStable
		if s.opts.HelpWithTesting {
			policy = types.StabilityTesting
		}
	}
	target := req.Architecture
	if target.Cpu == types.CpuSource {
		target.Cpu = types.CurrentArchitecture().Cpu
	}
	r := &run{
		ctx:          ctx,
		provider:     s.provider,
		opts:         s.opts,
		req:          req,
		target:       target,
		policy:       policy,
		feeds:        make(map[string][]types.Implementation),
		ranked:       make(map[string][]types.SelectionCandidate),
		selected:     make(map[string]*selection),
		restrictions: make(map[string]types.Restrictions),
	}
	if s.opts.Store != nil {
		r.contains = s.opts.Store.Contains
	}
	return r
}

func (r *run) rootDemand() demand {
	return demand{
		uri:       r.req.InterfaceURI,
		command:   r.req.EffectiveCommand(),
		source:    r.req.Source || r.req.Architecture.Cpu == types.CpuSource,
		essential: true,
	}
}

// solve satisfies pending in order, returning false when no assignment
// works from the current state. The state is unchanged on false.
func (r *run) solve(pending []demand) (bool, error) {
	if len(pending) == 0 {
		return true, nil
	}
	if err := r.ctx.Err(); err != nil {
		return false, err
	}
	d, rest := pending[0], pending[1:]

	if sel, ok := r.selected[d.uri]; ok {
		return r.revisit(sel, d, rest)
	}

	cands, err := r.candidates(d)
	if err != nil {
		return false, err
	}
	var conflicts []string
	for i := range cands {
		c := &cands[i]
		if !c.IsSuitable {
			break
		}
		r.steps++
		if r.steps > r.opts.MaxSteps {
			return false, fmt.Errorf("%w: gave up after %d candidates", types.ErrGraphTooComplex, r.opts.MaxSteps)
		}
		if note := r.conflict(c.Implementation, d); note != "" {
			conflicts = append(conflicts, fmt.Sprintf("%s (%s): %s", c.Version(), c.Implementation.ID, note))
			continue
		}

		mark := len(r.undo)
		next := r.choose(d, c.Implementation, cands)
		ok, err := r.solve(append(slices.Clone(rest), next...))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		r.rollback(mark)
	}

	if !d.essential {
		return r.solve(rest)
	}
	if r.failure == nil {
		r.failure = &types.SolverError{InterfaceURI: d.uri, Reason: describe(cands, conflicts)}
	}
	return false, nil
}

// revisit handles a demand for an interface that is already selected. The
// existing choice must serve the new command too.
func (r *run) revisit(sel *selection, d demand, rest []demand) (bool, error) {
	if d.command == "" || slices.Contains(sel.commands, d.command) {
		return r.solve(rest)
	}
	cmd := sel.impl.Command(d.command)
	if cmd == nil {
		if !d.essential {
			return r.solve(rest)
		}
		if r.failure == nil {
			r.failure = &types.SolverError{
				InterfaceURI: d.uri,
				Reason:       fmt.Sprintf("selected %s has no command %q", sel.impl.Version, d.command),
			}
		}
		return false, nil
	}
	if note := r.conflictCommand(cmd); note != "" {
		if !d.essential {
			return r.solve(rest)
		}
		if r.failure == nil {
			r.failure = &types.SolverError{InterfaceURI: d.uri, Reason: note}
		}
		return false, nil
	}

	mark := len(r.undo)
	prev := sel.commands
	sel.commands = append(slices.Clone(prev), d.command)
	r.undo = append(r.undo, func() { sel.commands = prev })
	next := r.commandDemands(cmd)
	ok, err := r.solve(append(slices.Clone(rest), next...))
	if err != nil || ok {
		return ok, err
	}
	r.rollback(mark)
	if !d.essential {
		return r.solve(rest)
	}
	return false, nil
}

// conflict reports why impl cannot be chosen given the current state.
func (r *run) conflict(impl *types.Implementation, d demand) string {
	if !r.restrictions[d.uri].Match(impl.Version) {
		return types.NoteConflictRestricted
	}
	if note := r.conflictEdges(impl.Dependencies, impl.Restrictions); note != "" {
		return note
	}
	if cmd := impl.Command(d.command); cmd != nil {
		return r.conflictCommand(cmd)
	}
	return ""
}

func (r *run) conflictCommand(cmd *types.Command) string {
	if note := r.conflictEdges(cmd.Dependencies, cmd.Restrictions); note != "" {
		return note
	}
	if cmd.Runner != nil {
		if sel, ok := r.selected[cmd.Runner.InterfaceURI]; ok && !cmd.Runner.Versions.Match(sel.impl.Version) {
			return types.NoteConflictSelected
		}
	}
	return ""
}

// conflictEdges checks that the version bounds impl places on other
// interfaces admit what is already selected for them.
func (r *run) conflictEdges(deps []types.Dependency, restrictions []types.Restriction) string {
	for _, dep := range deps {
		if !r.applies(dep.OS) {
			continue
		}
		if sel, ok := r.selected[dep.InterfaceURI]; ok && !dep.EffectiveRange().Match(sel.impl.Version) {
			return types.NoteConflictSelected
		}
	}
	for _, res := range restrictions {
		if !r.applies(res.OS) {
			continue
		}
		if sel, ok := r.selected[res.InterfaceURI]; ok && !res.EffectiveRange().Match(sel.impl.Version) {
			return types.NoteConflictSelected
		}
	}
	return ""
}

// applies reports whether an edge limited to os is relevant on the target.
func (r *run) applies(os types.OS) bool {
	return os == types.OSAll || types.IsOSCompatible(os, r.target.OS)
}

// choose records impl for d and returns the demands it introduces.
func (r *run) choose(d demand, impl *types.Implementation, cands []types.SelectionCandidate) []demand {
	sel := &selection{impl: impl, candidates: cands}
	if d.command != "" {
		sel.commands = []string{d.command}
	}
	r.selected[d.uri] = sel
	r.undo = append(r.undo, func() { delete(r.selected, d.uri) })

	var next []demand
	for _, dep := range impl.Dependencies {
		if !r.applies(dep.OS) {
			continue
		}
		r.restrict(dep.InterfaceURI, dep.EffectiveRange())
		next = append(next, demand{uri: dep.InterfaceURI, essential: dep.IsEssential()})
	}
	for _, res := range impl.Restrictions {
		if r.applies(res.OS) {
			r.restrict(res.InterfaceURI, res.EffectiveRange())
		}
	}
	if cmd := impl.Command(d.command); cmd != nil {
		next = append(next, r.commandDemands(cmd)...)
	}
	return next
}

// commandDemands applies a command's bounds and returns its dependencies
// and runner as demands.
func (r *run) commandDemands(cmd *types.Command) []demand {
	var next []demand
	for _, dep := range cmd.Dependencies {
		if !r.applies(dep.OS) {
			continue
		}
		r.restrict(dep.InterfaceURI, dep.EffectiveRange())
		next = append(next, demand{uri: dep.InterfaceURI, essential: dep.IsEssential()})
	}
	for _, res := range cmd.Restrictions {
		if r.applies(res.OS) {
			r.restrict(res.InterfaceURI, res.EffectiveRange())
		}
	}
	if runner := cmd.Runner; runner != nil {
		r.restrict(runner.InterfaceURI, runner.Versions)
		next = append(next, demand{uri: runner.InterfaceURI, command: runner.CommandName(), essential: true})
	}
	return next
}

func (r *run) restrict(uri string, vr types.VersionRange) {
	if vr.IsEmpty() {
		return
	}
	prev := r.restrictions[uri]
	r.restrictions[uri] = append(slices.Clip(prev), vr)
	r.undo = append(r.undo, func() { r.restrictions[uri] = prev })
}

func (r *run) rollback(mark int) {
	for i := len(r.undo) - 1; i >= mark; i-- {
		r.undo[i]()
	}
	r.undo = r.undo[:mark]
}

// selections renders the chosen state: the root first, then the rest by
// interface URI.
func (r *run) selections(root demand) *types.Selections {
	uris := make([]string, 0, len(r.selected))
	for uri := range r.selected {
		if uri != root.uri {
			uris = append(uris, uri)
		}
	}
	slices.Sort(uris)
	uris = append([]string{root.uri}, uris...)

	out := &types.Selections{InterfaceURI: root.uri, Command: root.command}
	for _, uri := range uris {
		sel := r.selected[uri]
		is := types.NewImplementationSelection(uri, sel.impl, sel.candidates)
		is.FromFeed = cmp.Or(sel.impl.FromFeed, uri)
		for _, name := range sel.commands {
			if cmd := sel.impl.Command(name); cmd != nil {
				is.Commands = append(is.Commands, *cmd)
			}
		}
		out.Implementations = append(out.Implementations, is)
	}
	return out
}
