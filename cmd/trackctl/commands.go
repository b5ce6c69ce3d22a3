package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/trackside-presence/internal/geo"
	"github.com/couchcryptid/trackside-presence/internal/observability"
	"github.com/couchcryptid/trackside-presence/internal/registry"
	"github.com/couchcryptid/trackside-presence/internal/store"
)

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func openStore(ctx context.Context, logger *slog.Logger) (*store.Store, error) {
	s, err := store.Open(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newDistanceCmd() *cobra.Command {
	var miles bool
	cmd := &cobra.Command{
		Use:   "distance [--miles] [--] LAT1 LON1 LAT2 LON2",
		Short: "Print the great-circle distance between two points",
		Long: `Print the great-circle distance between two points.

Flags go before the coordinates. Flag parsing stops at the first coordinate,
so negative values after it are read as numbers. Put -- before a negative
first latitude:

  trackctl distance --miles 39.7285 -121.8375 39.5390 -122.3310
  trackctl distance -- -33.8688 151.2093 -37.8136 144.9631`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c [4]float64
			for i, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("argument %d: invalid number %q", i+1, a)
				}
				c[i] = v
			}
			if miles {
				fmt.Fprintf(cmd.OutOrStdout(), "%.3f mi\n", geo.DistanceMiles(c[0], c[1], c[2], c[3]))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.1f m\n", geo.DistanceMeters(c[0], c[1], c[2], c[3]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&miles, "miles", false, "Print miles instead of meters")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newNearbyCmd() *cobra.Command {
	var (
		lat, lon, radius float64
		limit            int
	)
	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "List venues within a radius, nearest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger(cmd.ErrOrStderr())
			s, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			reg := registry.New(s, clockwork.NewRealClock(), logger, observability.NewUnregisteredMetrics())
			if err := reg.Load(ctx); err != nil {
				return err
			}
			return printNearby(cmd.OutOrStdout(), reg.Nearby(lat, lon, radius, limit))
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	cmd.Flags().Float64VarP(&radius, "radius", "r", 50, "Search radius in miles")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum venues to list")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func printNearby(w io.Writer, venues []registry.NearbyVenue) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCITY\tSTATE\tMILES")
	for _, v := range venues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\n", v.Venue.ID, v.Venue.Name, v.Venue.City, v.Venue.State, v.DistanceMiles)
	}
	return tw.Flush()
}

func newSeedCmd() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a venue CSV into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(csvPath)
			if err != nil {
				return err
			}
			defer f.Close()

			venues, err := readVenuesCSV(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", csvPath, err)
			}

			ctx := cmd.Context()
			s, err := openStore(ctx, newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.UpsertVenues(ctx, venues); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d venues\n", len(venues))
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "Venue CSV: id,name,lat,lon,radius_m,city,state,surface")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var (
		fixesPath string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed recorded fixes through a fresh detector and print transitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(fixesPath)
			if err != nil {
				return err
			}
			defer f.Close()

			fixes, err := readFixesCSV(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", fixesPath, err)
			}

			ctx := cmd.Context()
			logger := newLogger(cmd.ErrOrStderr())
			s, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			venues, err := s.ListVenues(ctx)
			if err != nil {
				return err
			}

			transitions, err := replay(ctx, venues, fixes, logger)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(transitions)
			}
			for _, t := range transitions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%-9s\t%s\t%s\n", t.At.Format("15:04:05"), t.Kind, t.VenueID, t.SessionID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d fixes, %d transitions\n", len(fixes), len(transitions))
			return nil
		},
	}
	cmd.Flags().StringVar(&fixesPath, "fixes", "", "Fix CSV: lat,lon[,accuracy][,time]")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print transitions as JSON")
	_ = cmd.MarkFlagRequired("fixes")
	return cmd
}
