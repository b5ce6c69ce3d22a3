// Command trackctl is an operator tool for the presence service: distance
// checks, nearby-venue queries, seeding the venue table, and replaying
// recorded fixes through a fresh geofence detector.
//
// Usage:
//
//	trackctl distance --miles 39.7285 -121.8375 39.5390 -122.3310
//	trackctl seed --db file:presence.db --csv venues.csv
//	trackctl nearby --db file:presence.db --lat 39.73 --lon -121.84 --radius 50
//	trackctl replay --db file:presence.db --fixes ride.csv
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dbDriver string
	dbDSN    string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:          "trackctl",
	Short:        "Operator tools for the trackside presence service",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "sqlite", "Store driver (sqlite or postgres)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "file:presence.db", "Store DSN")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(newDistanceCmd(), newNearbyCmd(), newSeedCmd(), newReplayCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
