package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warden/pkg/cache"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/interval"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/server"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "wardend",
	Short:   "wardend is the directory server described in the accompanying specification",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("wardend version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "", "path to a wardend config file (defaults to built-in defaults)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(purgeNowCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openServer(cfg config.Config) (*server.QueryServer, error) {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	return server.Open(server.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
		CacheConfig: cache.Config{
			EntryCacheTarget: cfg.Cache.EntryCacheTarget,
			IDLCacheRatio:    cfg.Cache.IDLCacheRatio,
		},
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run wardend: open the directory, bootstrap it if needed, and serve until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		qs, err := openServer(cfg)
		if err != nil {
			return fmt.Errorf("open server: %w", err)
		}
		defer qs.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "bootstrapped")
		metrics.RegisterComponent("storage", true, "opened")

		if err := qs.InitialiseHelper(time.Now()); err != nil {
			return fmt.Errorf("initialise: %w", err)
		}
		metrics.RegisterComponent("schema", true, "loaded")

		purger := interval.New(qs, interval.Config{
			PurgeFrequency:   cfg.Purge.Frequency,
			RecycleBinMaxAge: int64(cfg.Purge.RecycleBinMaxAge.Seconds()),
			ChangelogMaxAge:  int64(cfg.Purge.ChangelogMaxAge.Seconds()),
		})
		purger.Start()
		defer purger.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()

		logger := log.WithComponent("wardend")
		logger.Info().Str("data_dir", cfg.DataDir).Str("metrics_addr", cfg.MetricsAddr).Msg("wardend serving")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("metrics server failed")
		}

		_ = metricsSrv.Close()
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "rebuild every posting list from id2entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		qs, err := openServer(cfg)
		if err != nil {
			return err
		}
		defer qs.Close()

		if err := qs.Reindex(); err != nil {
			return err
		}
		fmt.Println("reindex complete")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "cross-check the index against id2entry and run every plugin's consistency check",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		qs, err := openServer(cfg)
		if err != nil {
			return err
		}
		defer qs.Close()

		errs, err := qs.Verify()
		if err != nil {
			return err
		}
		if len(errs) == 0 {
			fmt.Println("verify: no inconsistencies found")
			return nil
		}
		for _, e := range errs {
			fmt.Println(e)
		}
		return fmt.Errorf("verify found %d inconsistencies", len(errs))
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "run the bootstrap sequence against an existing directory (safe to re-run)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		qs, err := openServer(cfg)
		if err != nil {
			return err
		}
		defer qs.Close()

		if err := qs.InitialiseHelper(time.Now()); err != nil {
			return err
		}
		fmt.Println("migrate complete")
		return nil
	},
}

var purgeNowCmd = &cobra.Command{
	Use:   "purge-now",
	Short: "run one purge_recycled/purge_tombstones cycle immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		qs, err := openServer(cfg)
		if err != nil {
			return err
		}
		defer qs.Close()

		now := time.Now()
		recycled, err := qs.PurgeRecycled(now, int64(cfg.Purge.RecycleBinMaxAge.Seconds()))
		if err != nil {
			return fmt.Errorf("purge_recycled: %w", err)
		}
		tombstoned, err := qs.PurgeTombstones(now, int64(cfg.Purge.ChangelogMaxAge.Seconds()))
		if err != nil {
			return fmt.Errorf("purge_tombstones: %w", err)
		}
		fmt.Printf("tombstoned %d recycled entries, removed %d tombstones\n", recycled, tombstoned)
		return nil
	},
}
