package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"photoTagger/geo"
	"photoTagger/photometa"
	"photoTagger/utils"
)

func main() {
	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("command failed")
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "phototagger",
		Short:         "Embed descriptive and GPS metadata into JPEG images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to the configuration file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	load := func(cmd *cobra.Command) (*Config, error) {
		cfg, err := LoadConfig(configFile, cmd.Flags())
		if err != nil {
			return nil, err
		}
		if err := setupLogging(cfg.Log); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCommand(load),
		newEmbedCommand(load),
		newInspectCommand(),
		newGeocodeCommand(load),
		newClearDBCommand(load),
	)
	return root
}

type configLoader func(cmd *cobra.Command) (*Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return StartServer(cmd.Context(), a)
		},
	}
}

func newEmbedCommand(load configLoader) *cobra.Command {
	var (
		src, dest, keywords string
		workers             int
		lat, lon, alt       float64
		req                 photometa.Request
		legacy              photometa.LegacyFields
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed one set of fields into every JPEG of a folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if keywords != "" {
				req.Keywords = strings.Split(keywords, ",")
			}
			if flags.Changed("lat") {
				req.Latitude = photometa.Float(lat)
			}
			if flags.Changed("lon") {
				req.Longitude = photometa.Float(lon)
			}
			if flags.Changed("alt") {
				req.Altitude = photometa.Float(alt)
			}
			req.ExifData = &legacy

			rec, err := req.Record()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.batchRun(cmd.Context(), BatchConfig{SrcFolder: src, DestFolder: dest, Workers: workers}, rec); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.batch.Snapshot())
		},
	}

	f := cmd.Flags()
	f.StringVar(&src, "src", "", "Source folder to scan for JPEGs")
	f.StringVar(&dest, "dest", "", "Destination folder (default storage.dest_folder)")
	f.IntVar(&workers, "workers", 0, "Concurrent files (default storage.workers)")
	f.StringVar(&req.Title, "title", "", "Title")
	f.StringVar(&req.Description, "description", "", "Description")
	f.StringVar(&keywords, "keywords", "", "Comma-separated keywords")
	f.StringVar(&req.City, "city", "", "City")
	f.StringVar(&req.Country, "country", "", "Country")
	f.Float64Var(&lat, "lat", 0, "Latitude in decimal degrees")
	f.Float64Var(&lon, "lon", 0, "Longitude in decimal degrees")
	f.Float64Var(&alt, "alt", 0, "Altitude in metres")
	f.StringVar(&legacy.Make, "make", "", "Camera make")
	f.StringVar(&legacy.Model, "model", "", "Camera model")
	f.StringVar(&legacy.Copyright, "copyright", "", "Copyright notice")
	f.StringVar(&legacy.DateTime, "datetime", "", "Capture time (2006:01:02 15:04:05 or RFC 3339)")
	_ = cmd.MarkFlagRequired("src")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the metadata embedded in a JPEG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			report, err := BuildReport(data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newGeocodeCommand(load configLoader) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "geocode <plus-code>",
		Short: "Resolve a Plus Code to latitude and longitude",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			refLoc, err := geo.ParseRef(ref)
			if err != nil {
				return err
			}
			resolver := geo.NewResolver(geo.ResolverConfig{
				APIKey:   cfg.Geocode.APIKey,
				Endpoint: cfg.Geocode.Endpoint,
				Timeout:  cfg.Geocode.Timeout,
			})
			loc, err := resolver.Resolve(cmd.Context(), strings.Join(args, " "), refLoc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loc)
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "Reference point \"lat,lng\" for short codes")
	return cmd
}

func newClearDBCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-db",
		Short: "Delete every journal entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := ensureDirectory(filepath.Dir(cfg.Storage.DBPath)); err != nil {
				return err
			}
			db, err := openAndInitDB(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer db.Close()
			if err := db.clearDBTables(); err != nil {
				return fmt.Errorf("failed to clear journal: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared journal")
			return nil
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
