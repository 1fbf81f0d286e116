// Package cli implements the depot command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/archive"
	"github.com/mesh-intelligence/depot/internal/config"
	"github.com/mesh-intelligence/depot/internal/feed"
	"github.com/mesh-intelligence/depot/internal/logging"
	"github.com/mesh-intelligence/depot/internal/manifest"
	"github.com/mesh-intelligence/depot/internal/paths"
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
	exitMismatch  = 3
)

// errAuditFailed is returned by store audit when any entry is corrupt.
var errAuditFailed = errors.New("store audit found damaged implementations")

// usageError marks a mistake in the command line itself.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir   string
	jsonMode    bool
	logLevel    string
	metricsFile string
}

// app is the state shared by one invocation's commands. Settings and the
// logger are loaded on first use so init and version work without a
// readable configuration.
type app struct {
	flags rootFlags

	settings *config.Settings
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *store.Metrics
}

func newApp() *app {
	reg := prometheus.NewRegistry()
	return &app{registry: reg, metrics: store.NewMetrics(reg)}
}

// NewRootCmd creates the top-level "depot" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *app) {
	a := newApp()
	root := &cobra.Command{
		Use:   "depot",
		Short: "Select, fetch and store software implementations by digest",
		Long: "depot resolves interface feeds into a consistent set of implementations\n" +
			"and keeps them in a content-addressable store named by manifest digest.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $"+paths.EnvConfigDir+" or the user config dir)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error (default from config)")
	root.PersistentFlags().StringVar(&a.flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newStoreCmd(a))
	root.AddCommand(newFeedCmd(a))
	root.AddCommand(newSelectCmd(a))

	return root, a
}

// Run executes the command line in args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if werr := a.writeMetrics(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		reportError(stderr, err)
	}
	return exitCode(err)
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, "depot:", err)
	var mismatch *types.DigestMismatchError
	if errors.As(err, &mismatch) {
		if details := mismatch.Details(); details != "" {
			fmt.Fprint(w, details)
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var (
		mismatch *types.DigestMismatchError
		solver   *types.SolverError
		data     *types.FeedDataError
		usage    usageError
	)
	switch {
	case errors.As(err, &mismatch), errors.Is(err, errAuditFailed):
		return exitMismatch
	case errors.As(err, &usage),
		errors.As(err, &solver),
		errors.As(err, &data),
		types.IsNotFound(err),
		errors.Is(err, types.ErrUnknownDigestFormat),
		errors.Is(err, types.ErrInvalidInterfaceURI),
		errors.Is(err, manifest.ErrUnknownFormat),
		errors.Is(err, manifest.ErrNotDirectory),
		errors.Is(err, manifest.ErrCaseCollision),
		errors.Is(err, manifest.ErrMalformedName),
		errors.Is(err, archive.ErrCaseCollision),
		errors.Is(err, archive.ErrMalformedName),
		errors.Is(err, archive.ErrPathTraversal),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, feed.ErrUntrustedFeed),
		errors.Is(err, feed.ErrUnsupportedScheme):
		return exitUserError
	default:
		return exitSysError
	}
}

// load reads the configuration once per invocation and builds the logger.
func (a *app) load(cmd *cobra.Command) (*config.Settings, error) {
	if a.settings != nil {
		return a.settings, nil
	}
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	s, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	level := s.Log.Level
	if a.flags.logLevel != "" {
		level = a.flags.logLevel
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level, s.Log.Format)
	if err != nil {
		return nil, usageError{err}
	}
	a.settings, a.logger = s, logger
	return s, nil
}

// directoryStore opens one store root with the invocation's logger and
// metrics.
func (a *app) directoryStore(root string) (*store.DirectoryStore, error) {
	caseCheck, err := store.ParseCaseCheck(a.settings.CaseCheck)
	if err != nil {
		return nil, err
	}
	return store.NewDirectoryStore(root,
		store.WithLogger(a.logger),
		store.WithMetrics(a.metrics),
		store.WithCaseCheck(caseCheck),
	)
}

// openStore returns the configured stores, or the given roots when dirs is
// not empty.
func (a *app) openStore(cmd *cobra.Command, dirs ...string) (*store.CompositeStore, error) {
	s, err := a.load(cmd)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		dirs = s.StoreDirs
	}
	stores := make([]store.Store, 0, len(dirs))
	for _, d := range dirs {
		ds, err := a.directoryStore(d)
		if err != nil {
			return nil, err
		}
		stores = append(stores, ds)
	}
	return store.NewComposite(stores...), nil
}

// openFeeds returns a feed manager backed by the persistent feed cache. The
// caller closes the returned cache.
func (a *app) openFeeds(cmd *cobra.Command, network types.NetworkLevel) (*feed.Manager, *feed.Cache, error) {
	s, err := a.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	cache, err := feed.OpenCache(s.FeedCacheDir)
	if err != nil {
		return nil, nil, err
	}
	cfg := s.Config()
	if network != "" {
		cfg.NetworkUse = network
	}
	m := feed.NewManager(cfg, feed.WithCache(cache), feed.WithLogger(a.logger))
	return m, cache, nil
}

func (a *app) writeMetrics() error {
	if a.flags.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.flags.metricsFile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
