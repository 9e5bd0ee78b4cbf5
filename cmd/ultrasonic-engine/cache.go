package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/cache"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
	"github.com/ultrasonic/ultrasonic-sub000/internal/store"
	"github.com/ultrasonic/ultrasonic-sub000/internal/trackfile"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the track cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Evict cached tracks until the cache fits its budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := monitoring.NewLogger(monitoring.LogConfigFrom(cfg.Logging))
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := store.InitDB(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		// Tracks of the saved queue survive so the next run can resume them.
		protected := make(map[string]struct{})
		state, err := store.NewSnapshotStore(db, logger).Load(cmd.Context())
		if err != nil {
			logger.Warn("saved queue unavailable, nothing protected", zap.Error(err))
		} else if state != nil {
			deps := trackfile.Deps{CacheDir: cfg.Download.CacheDir}
			for _, t := range state.Tracks {
				for _, p := range trackfile.New(t, false, deps).Paths() {
					protected[p] = struct{}{}
				}
			}
		}

		cleaner := cache.NewCleaner(cfg.Download.CacheDir, int64(cfg.Download.CacheSizeMB)<<20,
			uint64(cfg.Download.MinFreeMB)<<20, store.NewPinRegistry(db), logger)
		res, err := cleaner.Clean(cmd.Context(), protected)
		if err != nil {
			return err
		}

		fmt.Printf("scanned %d files, evicted %d, freed %s, cache now %s\n",
			res.Scanned, res.Evicted, humanize.Bytes(uint64(res.FreedBytes)),
			humanize.Bytes(uint64(res.TotalBytes)))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
	rootCmd.AddCommand(cacheCmd)
}
