package main

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/internal/cache"
	"github.com/HerbHall/wofinder/internal/config"
	"github.com/HerbHall/wofinder/internal/discovery"
	"github.com/HerbHall/wofinder/internal/logger"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	cachePath  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "wofinder",
		Short:         "Discover Watchout servers on the local network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.cachePath, "cache", "", "server cache file override")

	root.AddCommand(
		newServeCmd(flags),
		newScanCmd(flags),
		newListCmd(flags),
		newAddCmd(flags),
		newRemoveCmd(flags),
		newClearOfflineCmd(flags),
		newVersionCmd(),
	)
	return root
}

// app is the wired process: configuration, logger and discovery service.
type app struct {
	cfg      *config.Config
	disc     discovery.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	service  *discovery.Service
}

// newApp loads configuration and wires the discovery service. The service
// has been started, so the cache is already loaded.
func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	v := cfg.Viper()
	if flags.logLevel != "" {
		v.Set("log.level", flags.logLevel)
	}
	if flags.cachePath != "" {
		v.Set("cache.path", flags.cachePath)
	}

	log, err := logger.New(logger.Options{
		Level:       cfg.GetString("log.level"),
		Development: cfg.GetBool("log.development"),
		File:        cfg.GetString("log.file"),
		MaxSizeMB:   cfg.GetInt("log.max_size_mb"),
		MaxBackups:  cfg.GetInt("log.max_backups"),
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	disc, err := discovery.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}

	cachePath, err := config.CachePath(cfg)
	if err != nil {
		return nil, err
	}
	store := cache.New(filepath.Clean(cachePath), log.Named("cache"),
		cache.WithMaxAge(cfg.GetDuration("cache.max_age")))

	reg := prometheus.NewRegistry()
	svc := discovery.NewService(store, discovery.BuildProbes(disc, log.Named("discovery")), log.Named("discovery"),
		discovery.WithMetrics(discovery.NewMetrics(reg)),
		discovery.WithProbeTimeout(disc.ProbeTimeout),
		discovery.WithOfflineThreshold(disc.OfflineThreshold),
	)
	svc.Start()

	return &app{cfg: cfg, disc: disc, logger: log, registry: reg, service: svc}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
