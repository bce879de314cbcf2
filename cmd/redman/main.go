// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/redman/internal/buildinfo"
	"github.com/autobrr/redman/internal/config"
	"github.com/autobrr/redman/internal/database"
	"github.com/autobrr/redman/internal/dispatcher"
	"github.com/autobrr/redman/internal/fetcher"
	"github.com/autobrr/redman/internal/fingerprint"
	"github.com/autobrr/redman/internal/library"
	"github.com/autobrr/redman/internal/models"
	"github.com/autobrr/redman/internal/qbit"
	"github.com/autobrr/redman/internal/reconciler"
	"github.com/autobrr/redman/internal/tracker"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var (
		configDir string
		poolPath  string
		baseURL   string
	)

	var rootCmd = &cobra.Command{
		Use:   "redman",
		Short: "Fetch and manage torrent collections",
		Long: `redman - Maintain a pool of torrent candidates from a private tracker
and reconcile it against your media library and qBittorrent.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/redman/). Can also be a direct path to a .toml file")
	rootCmd.PersistentFlags().StringVar(&poolPath, "pool", "", "pool database file path (default is redman.db in the data directory)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "tracker base URL override")

	globals := &globalFlags{configDir: &configDir, poolPath: &poolPath, baseURL: &baseURL}

	rootCmd.AddCommand(RunFetchCommand(globals))
	rootCmd.AddCommand(RunDownloadCommand(globals))
	rootCmd.AddCommand(RunStatsCommand(globals))
	rootCmd.AddCommand(RunGenerateConfigCommand(globals))
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configDir *string
	poolPath  *string
	baseURL   *string
}

// initApp loads configuration, applies global flag overrides and opens the
// pool database.
func initApp(g *globalFlags) (*config.AppConfig, *database.DB, error) {
	cfg, err := config.New(*g.configDir, buildinfo.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if *g.poolPath != "" {
		cfg.SetPoolPath(*g.poolPath)
	}
	if *g.baseURL != "" {
		cfg.SetBaseURL(*g.baseURL)
	}

	if _, err := url.ParseRequestURI(cfg.Config.BaseURL); err != nil {
		return nil, nil, fmt.Errorf("invalid tracker base URL %q: %w", cfg.Config.BaseURL, err)
	}

	cfg.ApplyLogConfig()

	db, err := database.New(cfg.GetPoolPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pool database: %w", err)
	}

	return cfg, db, nil
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted run stops
// cleanly between per-candidate commits.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func RunFetchCommand(g *globalFlags) *cobra.Command {
	var weight int

	command := &cobra.Command{
		Use:   "fetch <collage|artist> <id>...",
		Short: "Fetch collage or artist data from the tracker into the pool",
		Long: `Fetch tracker metadata into the pool database.

Multiple ids fetch concurrently; pages within one target are sequential.
A failing target never aborts the others, and re-running fetch is
idempotent: existing candidates only get their health fields refreshed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetType, err := tracker.ParseTargetType(args[0])
			if err != nil {
				return err
			}

			var targets []tracker.Target
			for _, raw := range args[1:] {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid %s id %q", targetType, raw)
				}
				targets = append(targets, tracker.Target{Type: targetType, ID: id})
			}

			cfg, db, err := initApp(g)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.Config.APIKey == "" {
				return fmt.Errorf("tracker API key is not configured (set apiKey or REDMAN__API_KEY)")
			}

			ctx, cancel := signalContext()
			defer cancel()

			client := tracker.NewClient(cfg.Config.BaseURL, cfg.Config.APIKey,
				tracker.WithRetries(cfg.Config.FetchRetries))
			svc := fetcher.New(client, db)

			results := svc.FetchAll(ctx, targets, weight)

			var failed int
			for _, r := range results {
				if r.Err != nil {
					failed++
					cmd.PrintErrf("✗ %s: %v\n", r.Target, r.Err)
					continue
				}
				cmd.Printf("✓ %s (%s): %d new, %d updated across %d page(s)\n",
					r.Target, r.Name, r.New, r.Updated, r.Pages)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d target(s) failed", failed, len(results))
			}
			return nil
		},
	}

	command.Flags().IntVar(&weight, "weight", 10, "priority weight recorded on fetched candidates")

	return command
}

func RunDownloadCommand(g *globalFlags) *cobra.Command {
	var (
		limit     int
		dryRun    bool
		collageID int64
		artistID  int64
	)

	command := &cobra.Command{
		Use:   "download",
		Short: "Reconcile the pool against library and client, then dispatch downloads",
		Long: `Snapshot the media library and qBittorrent, classify every actionable
candidate, and add the queued ones to qBittorrent.

Classification commits before dispatch begins, so an interrupted run can
be resumed by running download again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := initApp(g)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.Config.APIKey == "" {
				return fmt.Errorf("tracker API key is not configured (set apiKey or REDMAN__API_KEY)")
			}
			if cfg.Config.PlexDatabase == "" {
				return fmt.Errorf("plexDatabase is not configured")
			}

			ctx, cancel := signalContext()
			defer cancel()

			// Both snapshots are rebuilt fresh every run; either failing
			// aborts before any state changes.
			libReader := library.NewPlexReader(cfg.Config.PlexDatabase, fingerprint.Key)
			libSnapshot, err := libReader.Snapshot(ctx)
			if err != nil {
				return err
			}

			qbitClient, err := qbit.NewClient(ctx, qbit.Config{
				Host:          cfg.Config.QbitHost,
				Username:      cfg.Config.QbitUsername,
				Password:      cfg.Config.QbitPassword,
				Category:      cfg.Config.QbitCategory,
				TLSSkipVerify: cfg.Config.QbitTLSSkipVerify,
			})
			if err != nil {
				return err
			}
			clientSnapshot, err := qbitClient.Snapshot(ctx)
			if err != nil {
				return err
			}

			candidates := models.NewCandidateStore(db)
			actionable, err := candidates.ListActionable(ctx, cfg.Config.DispatchAttempts,
				models.ActionableFilter{CollageID: collageID, ArtistID: artistID})
			if err != nil {
				return err
			}

			plan := reconciler.Classify(actionable, libSnapshot, clientSnapshot, fingerprint.Key)

			if dryRun {
				cmd.Printf("Would queue %d of %d actionable candidate(s) (library: %d, client: %d, duplicate: %d)\n",
					len(plan.Queue), len(actionable),
					plan.SkippedInLibrary, plan.SkippedInClient, plan.SkippedDuplicate)
				for _, c := range plan.Queue {
					cmd.Printf("  %d | %s | %s [%s %s]\n", c.ID, c.ArtistNames, c.Title, c.Media, c.Encoding)
				}
				return nil
			}

			plan, err = reconciler.Apply(ctx, candidates, plan, log.Logger)
			if err != nil {
				return err
			}

			trackerClient := tracker.NewClient(cfg.Config.BaseURL, cfg.Config.APIKey,
				tracker.WithRetries(cfg.Config.FetchRetries))

			d := dispatcher.New(trackerClient, qbitClient, candidates, dispatcher.Config{
				Workers:      cfg.Config.DispatchWorkers,
				RetryCeiling: cfg.Config.DispatchAttempts,
			}, log.Logger)

			runLimit := limit
			if runLimit == 0 {
				runLimit = cfg.Config.DownloadLimit
			}

			summary, err := d.Run(ctx, plan.Queue, runLimit)

			cmd.Printf("\nDownload run summary\n")
			cmd.Printf("  actionable: %d\n", len(actionable))
			cmd.Printf("  skipped (library): %d\n", plan.SkippedInLibrary)
			cmd.Printf("  skipped (client): %d\n", plan.SkippedInClient)
			cmd.Printf("  skipped (duplicate): %d\n", plan.SkippedDuplicate)
			cmd.Printf("  added: %d\n", summary.Added)
			cmd.Printf("  failed: %d\n", summary.Failed)
			for _, f := range summary.Failures {
				kind := "transient"
				if f.Permanent {
					kind = "permanent"
				}
				cmd.PrintErrf("  ✗ %d | %s | %s (%s)\n", f.TorrentID, f.Name, f.Reason, kind)
			}

			return err
		},
	}

	command.Flags().IntVar(&limit, "limit", 0, "cap on torrents added this run (0 = config default)")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "classify and print the plan without committing or dispatching")
	command.Flags().Int64Var(&collageID, "collage", 0, "only consider candidates from this collage")
	command.Flags().Int64Var(&artistID, "artist", 0, "only consider candidates from this artist")

	return command
}

func RunStatsCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show statistics about the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := initApp(g)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			stats, err := models.NewStatsStore(db).Get(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Pool statistics\n")
			cmd.Printf("  Total candidates: %d\n", stats.TotalCandidates)
			cmd.Printf("  Unique artists:   %d\n", stats.UniqueArtists)
			cmd.Printf("  Unique albums:    %d\n", stats.UniqueAlbums)

			if len(stats.ByState) > 0 {
				cmd.Printf("\nState distribution:\n")
				for _, state := range []models.DownloadState{
					models.StateNotQueued, models.StateQueued, models.StateAdded,
					models.StateSkippedInLibrary, models.StateSkippedInClient,
					models.StateSkippedDuplicate, models.StateFailed,
				} {
					if count, ok := stats.ByState[state]; ok {
						cmd.Printf("  %s: %d\n", state, count)
					}
				}
			}

			if len(stats.FormatCounts) > 0 {
				cmd.Printf("\nFormat distribution:\n")
				for _, fc := range stats.FormatCounts {
					pct := float64(fc.Count) / float64(stats.TotalCandidates) * 100
					cmd.Printf("  %s: %d (%.1f%%)\n", fc.Format, fc.Count, pct)
				}
			}

			return nil
		},
	}
}

func RunGenerateConfigCommand(g *globalFlags) *cobra.Command {
	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without running anything.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/redman/config.toml
- Windows: %APPDATA%\redman\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := *g.configDir

			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of redman",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
