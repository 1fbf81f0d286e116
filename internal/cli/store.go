package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/archive"
	"github.com/mesh-intelligence/depot/internal/fsutil"
	"github.com/mesh-intelligence/depot/internal/manifest"
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/types"
)

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the implementation store",
	}
	cmd.AddCommand(
		newStoreAddCmd(a),
		newStoreCopyCmd(a),
		newStoreFindCmd(a),
		newStoreRemoveCmd(a),
		newStoreVerifyCmd(a),
		newStoreAuditCmd(a),
		newStoreListCmd(a),
		newStoreListTempCmd(a),
		newStoreOptimiseCmd(a),
		newStorePurgeCmd(a),
		newStoreExportCmd(a),
		newStoreManifestCmd(a),
	)
	return cmd
}

// argsRange is cobra.RangeArgs reported as a usage error. A negative hi
// leaves the count unbounded.
func argsRange(lo, hi int) cobra.PositionalArgs {
	check := cobra.RangeArgs(lo, hi)
	if hi < 0 {
		check = cobra.MinimumNArgs(lo)
	}
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func parseDigest(id string) (types.ManifestDigest, error) {
	d, err := types.ParseManifestDigest(id)
	if err != nil {
		return types.ManifestDigest{}, usageError{err}
	}
	return d, nil
}

type addOutput struct {
	Digest  string `json:"digest"`
	Outcome string `json:"outcome"`
	Path    string `json:"path"`
}

func printAdd(a *app, cmd *cobra.Command, id string, res store.AddResult) error {
	out := addOutput{Digest: id, Outcome: res.Outcome.String(), Path: res.Path}
	return a.emit(cmd, out, func(w io.Writer) {
		if res.Outcome == store.AddOutcomeAlreadyExists {
			fmt.Fprintf(w, "%s is already in the store at %s\n", id, res.Path)
			return
		}
		fmt.Fprintf(w, "Added %s at %s\n", id, res.Path)
	})
}

func newStoreAddCmd(a *app) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "add DIGEST (DIRECTORY | ARCHIVE [EXTRACT [MIME-TYPE [ARCHIVE ...]]])",
		Short: "Add a directory or archives to the store after checking the digest",
		Long: `Add a directory or archives to the store after checking the digest.

Several archives are extracted in order on top of each other. Archive
arguments come in groups of three, ARCHIVE EXTRACT MIME-TYPE; an empty
EXTRACT takes the whole archive and an empty MIME-TYPE is guessed.`,
		Args: argsRange(2, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := parseDigest(args[0])
			if err != nil {
				return err
			}
			info, err := os.Stat(args[1])
			if err != nil {
				return usagef("source: %w", err)
			}
			var archives []store.ArchiveInfo
			if info.IsDir() {
				if len(args) > 2 {
					return usagef("a directory source takes no further arguments")
				}
			} else if archives, err = archiveArgs(args[1:], mimeType); err != nil {
				return err
			}

			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			var res store.AddResult
			if info.IsDir() {
				res, err = st.AddDirectory(cmd.Context(), args[1], digest)
			} else {
				res, err = st.AddArchives(cmd.Context(), archives, digest)
			}
			if err != nil {
				return err
			}
			return printAdd(a, cmd, digest.Best(), res)
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "archive type when a group gives none (default: guessed from the file)")
	return cmd
}

// archiveArgs groups ARCHIVE [EXTRACT [MIME-TYPE]] arguments.
func archiveArgs(args []string, defaultMimeType string) ([]store.ArchiveInfo, error) {
	var archives []store.ArchiveInfo
	for i := 0; i < len(args); i += 3 {
		ai := store.ArchiveInfo{Path: args[i], MimeType: defaultMimeType}
		if i+1 < len(args) {
			ai.SubDir = args[i+1]
		}
		if i+2 < len(args) && args[i+2] != "" {
			ai.MimeType = args[i+2]
		}
		info, err := os.Stat(ai.Path)
		if err != nil {
			return nil, usagef("archive: %w", err)
		}
		if info.IsDir() {
			return nil, usagef("%s is a directory; only the first source may be one", ai.Path)
		}
		archives = append(archives, ai)
	}
	return archives, nil
}

func newStoreCopyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copy SOURCE [STORE-DIR]",
		Short: "Copy a directory named by its digest into a store",
		Args:  argsRange(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			digest, err := parseDigest(filepath.Base(source))
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd, args[1:]...)
			if err != nil {
				return err
			}
			res, err := st.AddDirectory(cmd.Context(), source, digest)
			if err != nil {
				return err
			}
			return printAdd(a, cmd, digest.Best(), res)
		},
	}
}

func newStoreFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find DIGEST",
		Short: "Print the path of a stored implementation",
		Args:  argsRange(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := parseDigest(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			p, ok := st.GetPath(digest)
			if !ok {
				return fmt.Errorf("%w: %s", types.ErrImplementationNotFound, args[0])
			}
			return a.emit(cmd, map[string]string{"digest": digest.Best(), "path": p}, func(w io.Writer) {
				fmt.Fprintln(w, p)
			})
		},
	}
}

func newStoreRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove DIGEST...",
		Short: "Remove implementations from the store",
		Args:  argsRange(1, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			var removed []string
			for _, id := range args {
				digest, err := parseDigest(id)
				if err != nil {
					return err
				}
				ok, err := st.Remove(cmd.Context(), digest)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", types.ErrImplementationNotFound, id)
				}
				removed = append(removed, id)
			}
			return a.emit(cmd, map[string][]string{"removed": removed}, func(w io.Writer) {
				for _, id := range removed {
					fmt.Fprintln(w, "Removed", id)
				}
			})
		},
	}
}

// verifyTarget checks one argument of store verify: a directory named by
// its digest or a digest looked up in the store.
func verifyTarget(cmd *cobra.Command, st store.Store, arg string) error {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		dir, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		digest, err := parseDigest(filepath.Base(dir))
		if err != nil {
			return err
		}
		_, err = manifest.VerifyDirectory(cmd.Context(), dir, digest)
		return err
	}
	digest, err := parseDigest(arg)
	if err != nil {
		return err
	}
	return st.Verify(cmd.Context(), digest)
}

type verifyOutput struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func newStoreVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify (DIGEST | DIRECTORY)...",
		Short: "Check that stored implementations still match their digests",
		Args:  argsRange(1, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			results := make([]verifyOutput, 0, len(args))
			var errs []error
			for _, arg := range args {
				err := verifyTarget(cmd, st, arg)
				if types.IsCanceled(err) {
					return err
				}
				r := verifyOutput{Target: arg, OK: err == nil}
				if err != nil {
					r.Error = err.Error()
					errs = append(errs, err)
				}
				results = append(results, r)
			}
			if err := a.emit(cmd, results, func(w io.Writer) {
				for _, r := range results {
					if r.OK {
						fmt.Fprintf(w, "%s: OK\n", r.Target)
					}
				}
			}); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
}

type mismatchOutput struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func newStoreAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit [STORE-DIR...]",
		Short: "Verify every implementation in the store",
		Args:  argsRange(0, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd, args...)
			if err != nil {
				return err
			}
			mismatches, err := st.Audit(cmd.Context(), a.progress(cmd, "Verifying"))
			if err != nil {
				return err
			}
			out := make([]mismatchOutput, len(mismatches))
			for i, m := range mismatches {
				out[i] = mismatchOutput{Path: m.Path, Expected: m.ExpectedDigest, Actual: m.ActualDigest}
			}
			if err := a.emit(cmd, out, func(w io.Writer) {
				for _, m := range mismatches {
					fmt.Fprintln(w, m.Error())
					fmt.Fprint(w, m.Details())
				}
				if len(mismatches) == 0 {
					fmt.Fprintln(w, "No problems found.")
				}
			}); err != nil {
				return err
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%w: %d", errAuditFailed, len(mismatches))
			}
			return nil
		},
	}
}

func newStoreListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the digests of stored implementations",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			digests, err := st.ListAll()
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(digests))
			for _, d := range digests {
				ids = append(ids, d.Best())
			}
			slices.Sort(ids)
			return a.emit(cmd, ids, func(w io.Writer) {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
			})
		},
	}
}

func newStoreListTempCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-temp",
		Short: "List staging directories left behind by interrupted adds",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			temps, err := st.ListAllTemp()
			if err != nil {
				return err
			}
			return a.emit(cmd, temps, func(w io.Writer) {
				for _, p := range temps {
					fmt.Fprintln(w, p)
				}
			})
		},
	}
}

func newStoreOptimiseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "optimise [STORE-DIR...]",
		Aliases: []string{"optimize"},
		Short:   "Replace identical files across implementations with hard links",
		Args:    argsRange(0, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd, args...)
			if err != nil {
				return err
			}
			saved, err := st.Optimise(cmd.Context(), a.progress(cmd, "Optimising"))
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]int64{"saved_bytes": saved}, func(w io.Writer) {
				fmt.Fprintf(w, "Space freed: %s\n", humanize.Bytes(uint64(saved)))
			})
		},
	}
}

func newStorePurgeCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every implementation from the store",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return usagef("refusing to purge the store without --yes")
			}
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			if err := st.Purge(cmd.Context()); err != nil {
				return err
			}
			return a.emit(cmd, map[string]bool{"purged": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Store purged.")
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of all stored implementations")
	return cmd
}

func newStoreExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export DIGEST ARCHIVE",
		Short: "Write a stored implementation to a .tar.gz archive",
		Args:  argsRange(2, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := parseDigest(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			dir, ok := st.GetPath(digest)
			if !ok {
				return fmt.Errorf("%w: %s", types.ErrImplementationNotFound, args[0])
			}
			err = fsutil.WriteFileAtomic(args[1], 0o644, func(w io.Writer) error {
				return archive.Export(cmd.Context(), dir, w)
			})
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"digest": digest.Best(), "archive": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "Exported %s to %s\n", digest.Best(), args[1])
			})
		},
	}
}

// manifestFormat picks the format named by arg, else the one implied by
// the directory name, else the recommended default.
func manifestFormat(dir string, args []string) (manifest.Format, error) {
	if len(args) > 0 {
		f, err := manifest.ParseFormat(args[0])
		if err != nil {
			return manifest.Format{}, usageError{err}
		}
		return f, nil
	}
	if f, err := manifest.FormatFromPrefix(filepath.Base(dir)); err == nil {
		return f, nil
	}
	return manifest.Recommended[0], nil
}

func newStoreManifestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest DIRECTORY [FORMAT]",
		Short: "Print the manifest and digest of a directory",
		Args:  argsRange(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			format, err := manifestFormat(dir, args[1:])
			if err != nil {
				return err
			}
			m, id, err := manifest.DigestOf(cmd.Context(), dir, format)
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"manifest": m.String(), "digest": id}, func(w io.Writer) {
				fmt.Fprint(w, m.String())
				fmt.Fprintln(w, id)
			})
		},
	}
}
