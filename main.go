// Package main provides the entry point for the samply CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oran3030/samply/internal/analysis"
	"github.com/oran3030/samply/internal/cache"
	"github.com/oran3030/samply/internal/config"
	"github.com/oran3030/samply/internal/library"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool

	cfg      config.Config
	logClose = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "samply",
		Short: "Analyse audio samples and keep them in a local cache",
		Long: paragraph(
			fmt.Sprintf("\nAnalyse audio samples for %s, and keep them in a size-bounded local cache.", keyword("tempo, key, loudness and shape")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}
)

// loadConfig resolves the configuration from the config file and the
// environment, then sets up logging.
func loadConfig() error {
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		dirs, err := config.SearchDirs()
		if err != nil {
			return err
		}
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
		v.SetConfigName("samply")
		configFile = filepath.Join(dirs[0], config.FileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("could not parse configuration file: %w", err)
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		configFile = used
	}

	c, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = c

	closer, err := setupLog(cfg.Log, debug)
	if err != nil {
		return err
	}
	logClose = closer

	log.Debug("Using configuration", "path", configFile, "cache", cfg.Cache.Dir)
	return nil
}

// openLibrary creates the analysis service. With noCache the service runs
// without a store and the returned store is nil.
func openLibrary(noCache bool) (*library.Service, *cache.Store, error) {
	a, err := analysis.New(cfg.Analysis)
	if err != nil {
		return nil, nil, err
	}
	if noCache {
		return library.New(a, nil), nil, nil
	}

	store, err := cache.Open(cfg.Cache, cache.WithLogger(log.Default()))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open cache: %w", err)
	}
	return library.New(a, store), store, nil
}

func closeStore(store *cache.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Error("Could not close cache", "err", err)
	}
}

func main() {
	err := rootCmd.Execute()
	_ = logClose()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/samply/samply.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")

	rootCmd.AddCommand(analyzeCmd, cacheCmd, watchCmd, configCmd, manCmd)
}
