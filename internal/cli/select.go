package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/fsutil"
	"github.com/mesh-intelligence/depot/internal/solver"
	"github.com/mesh-intelligence/depot/pkg/types"
)

type selectFlags struct {
	command    string
	source     bool
	arch       string
	langs      []string
	version    string
	versionFor []string
	refresh    bool
	offline    bool
	output     string
	explain    bool
}

// requirements builds the solver query for uri from the flags.
func (f *selectFlags) requirements(cmd *cobra.Command, uri string) (types.Requirements, error) {
	req := types.Requirements{InterfaceURI: uri, Source: f.source, Languages: f.langs}
	if cmd.Flags().Changed("command") {
		req.Command = types.CommandName(f.command)
	}
	if f.arch != "" {
		arch, err := types.ParseArchitecture(f.arch)
		if err != nil {
			return types.Requirements{}, usageError{err}
		}
		req.Architecture = arch
	}

	restrict := func(target, expr string) error {
		vr, err := types.ParseVersionRange(expr)
		if err != nil {
			return usageError{err}
		}
		if req.ExtraRestrictions == nil {
			req.ExtraRestrictions = make(map[string]types.VersionRange)
		}
		req.ExtraRestrictions[target] = vr
		return nil
	}
	if f.version != "" {
		if err := restrict(uri, f.version); err != nil {
			return types.Requirements{}, err
		}
	}
	for _, vf := range f.versionFor {
		target, expr, ok := strings.Cut(vf, "=")
		if !ok || target == "" {
			return types.Requirements{}, usagef("--version-for wants URI=RANGE, got %q", vf)
		}
		if err := restrict(target, expr); err != nil {
			return types.Requirements{}, err
		}
	}

	if err := req.Normalize(); err != nil {
		return types.Requirements{}, err
	}
	return req, nil
}

func newSelectCmd(a *app) *cobra.Command {
	var f selectFlags
	cmd := &cobra.Command{
		Use:   "select URI",
		Short: "Choose implementations of an interface and its dependencies",
		Long: "Resolve URI and everything it depends on against the configured feeds\n" +
			"and print the resulting selections document.",
		Args: argsRange(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.requirements(cmd, args[0])
			if err != nil {
				return err
			}
			settings, err := a.load(cmd)
			if err != nil {
				return err
			}
			var network types.NetworkLevel
			if f.offline {
				network = types.NetworkOffline
			}
			feeds, cache, err := a.openFeeds(cmd, network)
			if err != nil {
				return err
			}
			defer cache.Close()
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}

			opts := solver.OptionsFromConfig(settings.Config(), st)
			if network != "" {
				opts.NetworkUse = network
			}
			opts.Refresh = f.refresh
			opts.Logger = a.logger
			s := solver.New(feeds, opts)

			if f.explain {
				candidates, err := s.Candidates(cmd.Context(), req)
				if err != nil {
					return err
				}
				printCandidates(cmd.ErrOrStderr(), candidates)
				for _, sk := range feeds.SkippedFeeds(req.InterfaceURI) {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipped sub-feed %s: %v\n", sk.URI, sk.Err)
				}
			}

			sels, err := s.Solve(cmd.Context(), req)
			if err != nil {
				return err
			}
			if f.output != "" {
				return fsutil.WriteFileAtomic(f.output, 0o644, func(w io.Writer) error {
					return types.MarshalSelections(w, sels)
				})
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), sels)
			}
			return types.MarshalSelections(cmd.OutOrStdout(), sels)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.command, "command", "", "command to select (default: run, or compile with --source)")
	fl.BoolVar(&f.source, "source", false, "select source code instead of a binary")
	fl.StringVar(&f.arch, "arch", "", "target architecture as OS-CPU, e.g. Linux-x86_64 (default: this machine)")
	fl.StringSliceVar(&f.langs, "lang", nil, "preferred languages, e.g. en_GB")
	fl.StringVar(&f.version, "version", "", "version range for URI itself, e.g. 2.0..!3")
	fl.StringArrayVar(&f.versionFor, "version-for", nil, "version range for another interface as URI=RANGE (repeatable)")
	fl.BoolVar(&f.refresh, "refresh", false, "refetch remote feeds even when the cached copy is fresh")
	fl.BoolVar(&f.offline, "offline", false, "use only cached feeds and implementations")
	fl.StringVarP(&f.output, "output", "o", "", "write the selections document to this file")
	fl.BoolVar(&f.explain, "explain", false, "print every candidate for URI and why it was rejected")
	return cmd
}

func printCandidates(w io.Writer, candidates []types.SelectionCandidate) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTABILITY\tSUITABLE\tID\tNOTES")
	for _, c := range candidates {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			c.Version(), c.EffectiveStability, c.IsSuitable, c.Implementation.ID, c.Notes)
	}
	tw.Flush()
}
