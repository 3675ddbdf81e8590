package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netident/netident/internal/cache"
	"github.com/netident/netident/internal/config"
	"github.com/netident/netident/internal/handlers"
	"github.com/netident/netident/internal/lookup"
	"github.com/netident/netident/internal/provider"
	"github.com/netident/netident/internal/report"
	"github.com/netident/netident/internal/types"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func init() {
	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load configuration
	cfg = config.LoadConfig()

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "netident",
		Short: "Network identity lookup server",
		Long:  `A server and CLI that resolves the host's public network identity (IP, geolocation, ASN) through a cascade of third-party providers and scores IPs for abuse risk.`,
		RunE:  runServer,
	}

	// Add CLI flags
	rootCmd.PersistentFlags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP port to listen on")
	rootCmd.PersistentFlags().DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "Timeout for outbound provider requests")
	rootCmd.PersistentFlags().StringVar(&cfg.DetailEndpoint, "detail-endpoint", cfg.DetailEndpoint, "IP detail lookup endpoint")
	rootCmd.PersistentFlags().StringVar(&cfg.ProvidersFile, "providers-file", cfg.ProvidersFile, "YAML file overriding the geolocation provider cascade")
	rootCmd.PersistentFlags().StringVar(&cfg.CityDBPath, "city-db", cfg.CityDBPath, "Path to a local GeoLite2 City database (optional)")
	rootCmd.PersistentFlags().StringVar(&cfg.ASNDBPath, "asn-db", cfg.ASNDBPath, "Path to a local GeoLite2 ASN database (optional)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	// Cache flags
	rootCmd.PersistentFlags().BoolVar(&cfg.CacheEnabled, "cache-enabled", cfg.CacheEnabled, "Enable detail lookup caching")
	rootCmd.PersistentFlags().DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Cache TTL duration")
	rootCmd.PersistentFlags().IntVar(&cfg.CacheMaxEntries, "cache-max-entries", cfg.CacheMaxEntries, "Maximum cache entries")

	// Refresh flags
	rootCmd.PersistentFlags().BoolVar(&cfg.AutoRefresh, "auto-refresh", cfg.AutoRefresh, "Periodically refresh the host identity report")
	rootCmd.PersistentFlags().StringVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "Report refresh interval (cron format)")

	// Add subcommands
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(detailCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

// buildSources returns the report sources, with the geo cascade replaced
// by the providers file when one is configured.
func buildSources() (report.Sources, error) {
	sources := report.DefaultSources()
	if cfg.ProvidersFile != "" {
		geo, err := provider.LoadCascadeFile(cfg.ProvidersFile)
		if err != nil {
			return report.Sources{}, err
		}
		sources.Geo = geo
	}
	return sources, nil
}

// buildAggregator wires the resolver and source cascades.
func buildAggregator() (*report.Aggregator, error) {
	sources, err := buildSources()
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	resolver := provider.NewResolver(httpClient, cfg.UserAgent, logger)
	return report.NewAggregator(resolver, sources, logger), nil
}

// buildDetailer wires the detail lookup client, including the optional
// local databases.
func buildDetailer() (*lookup.Client, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := lookup.NewClient(httpClient, cfg.DetailEndpoint, cfg.UserAgent, logger)
	if err := client.OpenDatabases(cfg.CityDBPath, cfg.ASNDBPath); err != nil {
		return nil, err
	}
	return client, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	logger.Info("Starting netident server...")

	aggregator, err := buildAggregator()
	if err != nil {
		return fmt.Errorf("failed to configure lookup sources: %w", err)
	}

	detailer, err := buildDetailer()
	if err != nil {
		return fmt.Errorf("failed to configure detail lookup: %w", err)
	}
	defer detailer.Close()

	// Detail cache
	var detailCache *cache.DetailCache
	if cfg.CacheEnabled {
		detailCache = cache.NewDetailCache(cfg.CacheTTL, cfg.CacheMaxEntries, logger)
		defer detailCache.Close()
		logger.Infof("Cache enabled - TTL: %v, Max entries: %d", cfg.CacheTTL, cfg.CacheMaxEntries)
	} else {
		logger.Info("Cache disabled")
	}

	// Setup HTTP handlers
	apiHandler := handlers.NewAPIHandler(aggregator, detailer, detailCache, logger)
	router := apiHandler.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Setup scheduled report refresh
	var cronScheduler *cron.Cron
	if cfg.AutoRefresh {
		cronScheduler = cron.New()
		_, err := cronScheduler.AddFunc(cfg.RefreshInterval, func() {
			logger.Info("Running scheduled identity refresh...")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*4)
			defer cancel()
			rep := aggregator.Build(ctx)
			if rep.Geo.OK() {
				logger.Infof("Identity refresh completed: %s via %s", rep.Geo.Info.IP, rep.Geo.Info.Source)
			} else {
				logger.Errorf("Identity refresh failed: %s", rep.Geo.Error)
			}
		})
		if err != nil {
			logger.Errorf("Failed to setup cron scheduler: %v", err)
		} else {
			cronScheduler.Start()
			logger.Infof("Scheduled identity refresh every: %s", cfg.RefreshInterval)
		}
	}

	// Start server
	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Starting HTTP server on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Received shutdown signal, shutting down gracefully...")
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
		return err
	}

	return gracefulShutdown(server, cronScheduler)
}

// gracefulShutdown handles graceful shutdown of all services
func gracefulShutdown(server *http.Server, cronScheduler *cron.Cron) error {
	logger.Info("Starting graceful shutdown...")

	if cronScheduler != nil {
		logger.Info("Stopping cron scheduler...")
		cronScheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
		server.Close() // Force close if graceful shutdown fails
	} else {
		logger.Info("HTTP server shut down gracefully")
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

// Lookup command
var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Resolve the host's network identity",
	Long:  `Run all lookup sources concurrently and print the aggregated report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		aggregator, err := buildAggregator()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*4)
		defer cancel()

		rep := aggregator.Build(ctx)

		fmt.Println("Network Identity Report:")
		fmt.Println("========================")
		printReportLine("Geolocation", rep.Geo)
		printReportLine("IPv4", rep.IPv4)
		printReportLine("IPv6", rep.IPv6)
		printReportLine("Trace", rep.Trace)
		fmt.Printf("\nCompleted in %dms\n", rep.DurationMS)

		if !rep.Geo.OK() && !rep.IPv4.OK() && !rep.IPv6.OK() && !rep.Trace.OK() {
			return fmt.Errorf("all lookup sources failed")
		}
		return nil
	},
}

// Detail command
var detailCmd = &cobra.Command{
	Use:   "detail <ip>",
	Short: "Look up abuse and network detail for an IP",
	Long:  `Fetch the full detail record for an IP, including the composite abuse-risk score. Wildcard characters in the IP are replaced with zeros.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detailer, err := buildDetailer()
		if err != nil {
			return err
		}
		defer detailer.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*2)
		defer cancel()

		detail, err := detailer.Detail(ctx, args[0])
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(detail)
	},
}

// Providers command
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the effective provider cascade",
	Long:  `Print every lookup source and its providers in cascade order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := buildSources()
		if err != nil {
			return err
		}

		fmt.Println("Lookup Sources:")
		fmt.Println("===============")
		printCascade("geo", sources.Geo)
		printCascade("ipv4", sources.IPv4)
		printCascade("ipv6", sources.IPv6)
		printCascade("trace", sources.Trace)
		return nil
	},
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display version and build information.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("netident v1.0.0")
		fmt.Printf("Cache support: %v\n", cfg.CacheEnabled)
		fmt.Printf("Auto refresh: %v\n", cfg.AutoRefresh)
	},
}

func printReportLine(label string, result types.SourceResult) {
	if result.OK() {
		fmt.Printf("\n%s (%s):\n", label, result.Info.Source)
		fmt.Printf("  IP: %s\n", result.Info.IP)
		if result.Info.Country != types.Unknown {
			fmt.Printf("  Country: %s\n", result.Info.Country)
		}
		if result.Info.City != types.Unknown {
			fmt.Printf("  City: %s\n", result.Info.City)
		}
		return
	}
	fmt.Printf("\n%s:\n", label)
	fmt.Printf("  Error: %s\n", result.Error)
}

func printCascade(name string, cascade []provider.Descriptor) {
	fmt.Printf("\n%s:\n", name)
	for i, d := range cascade {
		fmt.Printf("  %d. %s (%s)\n", i+1, d.Name, d.Endpoint)
	}
}
