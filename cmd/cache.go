package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-cli/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the geocode cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete geocode cache entries older than the cache TTL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		maxAge, _ := cmd.Flags().GetDuration("max-age")
		if maxAge == 0 {
			maxAge = cfg.Geocode.CacheTTL()
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := pruneCache(ctx, st, maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d cache entries deleted\n", n) //nolint:errcheck
		return nil
	},
}

// pruneCache deletes cache entries older than maxAge. A non-positive maxAge
// keeps everything.
func pruneCache(ctx context.Context, st store.Store, maxAge time.Duration) (int, error) {
	n, err := st.DeleteExpiredGeocodes(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	zap.L().Info("geocode cache pruned", zap.Int("deleted", n), zap.Duration("max_age", maxAge))
	return n, nil
}

func init() {
	cachePruneCmd.Flags().Duration("max-age", 0, "delete entries older than this (default geocode.cache_ttl_days)")
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
