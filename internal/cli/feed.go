package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/pkg/types"
)

func newFeedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Inspect and import interface feeds",
	}
	cmd.AddCommand(newFeedImportCmd(a), newFeedListCmd(a), newFeedShowCmd(a))
	return cmd
}

func newFeedImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import URI FILE",
		Short: "Add a remote feed to the feed cache from a local file",
		Args:  argsRange(2, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := types.NormalizeInterfaceURI(args[0])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return usagef("read feed: %w", err)
			}
			m, cache, err := a.openFeeds(cmd, "")
			if err != nil {
				return err
			}
			defer cache.Close()

			f, err := m.Import(cmd.Context(), uri, content)
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]any{"uri": f.URI, "implementations": len(f.Implementations)}, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %s (%d implementations)\n", f.URI, len(f.Implementations))
			})
		},
	}
}

func newFeedListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached remote feeds",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cache, err := a.openFeeds(cmd, "")
			if err != nil {
				return err
			}
			defer cache.Close()

			uris, err := cache.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, uris, func(w io.Writer) {
				for _, u := range uris {
					fmt.Fprintln(w, u)
				}
			})
		},
	}
}

type implementationOutput struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Stability string `json:"stability"`
	Arch      string `json:"arch"`
	Digest    string `json:"digest,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

func newFeedShowCmd(a *app) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "show URI",
		Short: "List the implementations a feed and its sub-feeds offer",
		Args:  argsRange(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := types.NormalizeInterfaceURI(args[0])
			if err != nil {
				return err
			}
			var network types.NetworkLevel
			if offline {
				network = types.NetworkOffline
			}
			m, cache, err := a.openFeeds(cmd, network)
			if err != nil {
				return err
			}
			defer cache.Close()

			impls, err := m.GetImplementations(cmd.Context(), uri)
			if err != nil {
				return err
			}
			for _, sk := range m.SkippedFeeds(uri) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped sub-feed %s: %v\n", sk.URI, sk.Err)
			}
			out := make([]implementationOutput, len(impls))
			for i, impl := range impls {
				out[i] = implementationOutput{
					ID:        impl.ID,
					Version:   impl.Version.String(),
					Stability: impl.Stability.String(),
					Arch:      impl.Architecture.String(),
					Digest:    impl.ManifestDigest.Best(),
					LocalPath: impl.LocalPath,
				}
			}
			return a.emit(cmd, out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTABILITY\tARCH\tID")
				for _, o := range out {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Version, o.Stability, o.Arch, o.ID)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "use only cached feeds")
	return cmd
}
