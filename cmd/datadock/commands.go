package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/datadock/datadock/pkg/cache"
	"github.com/datadock/datadock/pkg/config"
	"github.com/datadock/datadock/pkg/download"
	"github.com/datadock/datadock/pkg/gitlab"
	"github.com/datadock/datadock/pkg/ingest"
	"github.com/datadock/datadock/pkg/log"
	"github.com/datadock/datadock/pkg/table"
	"github.com/datadock/datadock/pkg/telemetry"
)

// Additional CLI flags
var (
	// Load flags
	jsonOutput bool

	// Download flags
	destDir         string
	maxRetries      int
	parallelWorkers int

	// Watch flags
	metricsAddr string
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CC66"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

func init() {
	loadCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the load summary as JSON")
	cacheInfoCmd.Flags().BoolVar(&jsonOutput, "json", false, "print cache info as JSON")

	downloadCmd.Flags().StringVarP(&destDir, "dest", "d", "data", "destination directory")
	downloadCmd.Flags().IntVar(&maxRetries, "retries", 3, "attempts per file")
	downloadCmd.Flags().IntVarP(&parallelWorkers, "parallel", "p", 4, "concurrent downloads")

	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
}

// buildStack wires the remote client and cache store from config.
func buildStack(cfg *config.Config) (*gitlab.Client, *cache.Store, error) {
	client := gitlab.NewClient(cfg.Source.BaseURL)

	var backend cache.MetadataBackend
	if cfg.Cache.Backend == "redis" {
		rc := cache.DefaultRedisConfig(cfg.Cache.Redis.Address)
		rc.Password = cfg.Cache.Redis.Password
		rc.Database = cfg.Cache.Redis.Database
		rb, err := cache.NewRedisBackend(rc)
		if err != nil {
			return nil, nil, err
		}
		backend = rb
	}

	store, err := cache.NewStore(cfg.Cache.Dir, client, backend)
	if err != nil {
		return nil, nil, err
	}
	return client, store, nil
}

func sourceFromConfig(cfg *config.Config) ingest.Source {
	return ingest.Source{
		Mode:      ingest.Mode(cfg.Source.Mode),
		LocalRoot: cfg.Source.LocalRoot,
		RepoID:    cfg.Source.RepoID,
		Branch:    cfg.Source.Branch,
		Token:     cfg.Token,
		Bucket:    cfg.Source.Bucket,
		Prefix:    cfg.Source.Prefix,
		Region:    cfg.Source.Region,
		Endpoint:  cfg.Source.Endpoint,
	}
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load all configured module files and print a summary",
	Long: `Load every file named in the configured module map, from the
configured source (local, remote, or s3), and print what was loaded.

Remote files are cached on disk; subsequent loads read from the cache.

Examples:
  datadock load
  datadock load --json
  DATADOCK_MODE=local DATADOCK_LOCAL_ROOT=./data datadock load`,
	RunE: runLoad,
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg := manager.Get()
	ctx := cmd.Context()

	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig("datadock")
		if cfg.Telemetry.Endpoint != "" {
			tcfg.Endpoint = cfg.Telemetry.Endpoint
		}
		shutdown, err := telemetry.Init(ctx, tcfg)
		if err != nil {
			log.Warn("telemetry disabled: %v", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				shutdown(sctx)
			}()
		}
	}

	client, store, err := buildStack(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	tables, dates, ilog := ingest.New(client, store).Load(ctx, cfg.Modules, sourceFromConfig(cfg))

	if jsonOutput {
		return printLoadJSON(tables, dates, ilog)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Loaded %d of %d files in %s",
		len(tables), countModuleFiles(cfg.Modules), time.Since(start).Round(time.Millisecond))))

	for _, name := range sortedKeys(tables) {
		t := tables[name]
		line := fmt.Sprintf("  %-40s %8d rows  %3d cols", name, t.NumRows(), t.NumCols())
		if d, ok := dates[name]; ok {
			line += mutedStyle.Render("  " + d.Format("2006-01-02"))
		}
		fmt.Println(line)
	}
	for _, w := range ilog.Warnings {
		fmt.Println(warnStyle.Render("  warning: " + w))
	}
	return nil
}

func printLoadJSON(tables map[string]*table.Table, dates map[string]time.Time, ilog *ingest.Log) error {
	type fileSummary struct {
		Rows int        `json:"rows"`
		Cols int        `json:"cols"`
		Date *time.Time `json:"date,omitempty"`
	}
	out := struct {
		Files    map[string]fileSummary `json:"files"`
		Warnings []string               `json:"warnings"`
	}{Files: map[string]fileSummary{}, Warnings: ilog.Warnings}

	for name, t := range tables {
		fs := fileSummary{Rows: t.NumRows(), Cols: t.NumCols()}
		if d, ok := dates[name]; ok {
			d := d
			fs.Date = &d
		}
		out.Files[name] = fs
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the disk cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cached files and sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := buildStack(manager.Get())
		if err != nil {
			return err
		}
		info := store.GetInfo()

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%d files, %.2f MB in %s",
			info.FileCount, info.TotalSizeMB, info.Dir)))
		for _, f := range info.Files {
			if rec, ok := store.Record(f); ok {
				fmt.Printf("  %-40s downloaded %s\n", f, rec.DownloadedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("  %s\n", f)
			}
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [file]",
	Short: "Remove one cached file, or everything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := buildStack(manager.Get())
		if err != nil {
			return err
		}
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		if err := store.Clear(target); err != nil {
			return err
		}
		if target == "" {
			fmt.Println("cache cleared")
		} else {
			fmt.Printf("removed %s\n", target)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Bulk download all module files into a local directory",
	Long: `Download every file named in the configured module map from the
remote repository, preserving the repository directory layout. Transient
failures are retried with a linear backoff.

Examples:
  datadock download
  datadock download --dest ./data --parallel 8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := manager.Get()
		client := gitlab.NewClient(cfg.Source.BaseURL)

		res, err := download.Run(cmd.Context(), client, cfg.Modules, download.Options{
			RepoID:       cfg.Source.RepoID,
			Branch:       cfg.Source.Branch,
			Token:        cfg.Token,
			DestDir:      destDir,
			MaxRetries:   maxRetries,
			Concurrency:  parallelWorkers,
			ShowProgress: true,
		})
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("saved %d files to %s", len(res.Saved), destDir)))
		for _, m := range res.Missing {
			fmt.Println(warnStyle.Render("  missing: " + m))
		}
		for p, ferr := range res.Failed {
			fmt.Println(warnStyle.Render(fmt.Sprintf("  failed: %s: %v", p, ferr)))
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d downloads failed", len(res.Failed))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the cache fresh, or watch a local directory",
	Long: `In remote mode, periodically compare cached files against the
repository and re-download anything stale. In local mode, watch the
local root for file changes and log them.

Examples:
  datadock watch
  datadock watch --metrics-addr :9090`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := manager.Get()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		log.Info("serving metrics on %s", metricsAddr)
	}

	if ingest.Mode(cfg.Source.Mode) == ingest.ModeLocal {
		watcher, err := ingest.NewLocalWatcher(cfg.Source.LocalRoot)
		if err != nil {
			return err
		}
		watcher.OnChange = func(filename string) {
			log.Info("changed: %s", filename)
		}
		log.Info("watching %s", cfg.Source.LocalRoot)
		return watcher.Run(ctx)
	}

	_, store, err := buildStack(cfg)
	if err != nil {
		return err
	}

	poller := cache.NewPoller(store, cfg.Token, cfg.Cache.CheckInterval)
	poller.Start()
	defer poller.Stop()
	log.Info("checking for updates every %s", cfg.Cache.CheckInterval)

	<-ctx.Done()
	return nil
}

func countModuleFiles(modules map[string][]string) int {
	seen := map[string]struct{}{}
	for _, names := range modules {
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	return len(seen)
}

func sortedKeys(m map[string]*table.Table) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
