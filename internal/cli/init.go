package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/config"
	"github.com/mesh-intelligence/depot/internal/feed"
	"github.com/mesh-intelligence/depot/internal/logging"
	"github.com/mesh-intelligence/depot/internal/paths"
)

type initFlags struct {
	storeDirs []string
	network   string
	policy    string
	force     bool
}

func newInitCmd(a *app) *cobra.Command {
	var f initFlags
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write config.yaml and create the store and feed cache",
		Long: "Create the configuration directory and config.yaml, then the store\n" +
			"directories and the feed cache they name. An existing config.yaml is\n" +
			"kept unless --force is given or settings are passed as flags.",
		Args: argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, a, f)
		},
	}
	cmd.Flags().StringArrayVar(&f.storeDirs, "store-dir", nil, "implementation store directory (repeatable)")
	cmd.Flags().StringVar(&f.network, "network-use", "", "network level: full, minimal or offline")
	cmd.Flags().StringVar(&f.policy, "stability-policy", "", "lowest stability to select")
	cmd.Flags().BoolVar(&f.force, "force", false, "replace an existing config.yaml with defaults")
	return cmd
}

func runInit(cmd *cobra.Command, a *app, f initFlags) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	configPath := filepath.Join(configDir, config.FileName)

	var s *config.Settings
	if _, statErr := os.Stat(configPath); statErr == nil && !f.force {
		s, err = config.Load(configDir)
	} else {
		s, err = config.Defaults()
	}
	if err != nil {
		return err
	}

	changed := f.force
	if len(f.storeDirs) > 0 {
		s.StoreDirs, changed = f.storeDirs, true
	}
	if f.network != "" {
		s.NetworkUse, changed = f.network, true
	}
	if f.policy != "" {
		s.StabilityPolicy, changed = f.policy, true
	}
	if _, statErr := os.Stat(configPath); changed || os.IsNotExist(statErr) {
		if err := config.Write(configDir, s); err != nil {
			return err
		}
	}

	logger, err := logging.New(cmd.ErrOrStderr(), s.Log.Level, s.Log.Format)
	if err != nil {
		return usageError{err}
	}
	a.settings, a.logger = s, logger

	for _, dir := range s.StoreDirs {
		if _, err := a.directoryStore(dir); err != nil {
			return err
		}
	}
	cache, err := feed.OpenCache(s.FeedCacheDir)
	if err != nil {
		return err
	}
	if err := cache.Close(); err != nil {
		return err
	}

	out := map[string]any{
		"config":         configPath,
		"store_dirs":     s.StoreDirs,
		"feed_cache_dir": s.FeedCacheDir,
	}
	return a.emit(cmd, out, func(w io.Writer) {
		fmt.Fprintf(w, "Configuration: %s\n", configPath)
		for _, d := range s.StoreDirs {
			fmt.Fprintf(w, "Store:         %s\n", d)
		}
		fmt.Fprintf(w, "Feed cache:    %s\n", s.FeedCacheDir)
	})
}
