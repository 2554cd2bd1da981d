// Package main provides the Muninn CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Concept Memory and Review Scheduling Engine",
		Long: `Muninn tracks the concepts you encounter on screen and schedules
reviews before you forget them.

Features:
  • Concept graph with embedding-based similarity links
  • Ebbinghaus memory decay weighted by live attention signals
  • SM-2 spaced-repetition review scheduling
  • Review reminders with cooldown and rate limiting
  • Retention sweeps that forget what you stopped caring about`,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path (YAML)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s)\n", version, commit)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Muninn engine",
		Long:  "Start the concept tracker with background decay, reminders, retention sweeps, and the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config; empty uses config value)")
	serveCmd.Flags().Int("port", 0, "HTTP API port (overrides config)")
	serveCmd.Flags().Bool("no-server", false, "Run the engine without the HTTP API")
	rootCmd.AddCommand(serveCmd)

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Muninn data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show concept graph statistics",
		RunE:  runStats,
	})

	// Sweep command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep",
		Long:  "Delete concepts past the retention age that are neither well-remembered nor recently reminded",
		RunE:  runSweep,
	})

	// Snapshot command
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a JSON snapshot of the concept graph",
		RunE:  runSnapshot,
	}
	snapshotCmd.Flags().StringP("output", "o", "", "Snapshot path (overrides config)")
	rootCmd.AddCommand(snapshotCmd)

	// Hash-password command (for server.auth_password_hash)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "hash-password [password]",
		Short: "Generate a bcrypt hash for the HTTP API basic auth config",
		Args:  cobra.ExactArgs(1),
		RunE:  runHashPassword,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration: built-in defaults, then the --config
// file when given, then MUNINN_* environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadFromEnv(), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Database.DataDir = dataDir
		cfg.Database.SnapshotPath = filepath.Join(dataDir, "concepts.json")
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
		cfg.Server.Enabled = false
	}

	fmt.Printf("🚀 Starting Muninn v%s\n", version)
	fmt.Printf("   Data directory:  %s\n", orMem(cfg.Database.DataDir))
	fmt.Printf("   Snapshot path:   %s\n", cfg.Database.SnapshotPath)
	fmt.Printf("   Decay rate:      %.3f/hour\n", cfg.Memory.DecayRate)
	fmt.Printf("   Embedding:       %s\n", embeddingSummary(cfg))
	fmt.Println()

	if cfg.Database.DataDir != "" {
		if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	tracker, err := muninn.Open(cfg.Database.DataDir, cfg)
	if err != nil {
		return fmt.Errorf("opening tracker: %w", err)
	}

	tracker.Start()

	var httpServer *server.Server
	if cfg.Server.Enabled {
		httpServer, err = server.New(tracker, &server.Config{
			Address:          cfg.Server.Address,
			Port:             cfg.Server.Port,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			AuthUsername:     cfg.Server.AuthUsername,
			AuthPasswordHash: cfg.Server.AuthPasswordHash,
		})
		if err != nil {
			tracker.Close()
			return fmt.Errorf("creating server: %w", err)
		}
		if err := httpServer.Start(); err != nil {
			tracker.Close()
			return fmt.Errorf("starting server: %w", err)
		}
	}

	fmt.Println("✅ Muninn is ready!")
	fmt.Println()
	if httpServer != nil {
		fmt.Println("Endpoints:")
		fmt.Printf("  • Observations: POST http://%s/observations\n", httpServer.Addr())
		fmt.Printf("  • Due concepts: GET  http://%s/due\n", httpServer.Addr())
		fmt.Printf("  • Stats:        GET  http://%s/stats\n", httpServer.Addr())
		fmt.Printf("  • Health:       GET  http://%s/health\n", httpServer.Addr())
		fmt.Println()
		if cfg.Server.AuthUsername != "" {
			fmt.Printf("Authentication: basic auth as %q\n", cfg.Server.AuthUsername)
			fmt.Println()
		}
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	// Block until shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Stop(ctx); err != nil {
			return fmt.Errorf("stopping server: %w", err)
		}
	}
	if err := tracker.Close(); err != nil {
		return fmt.Errorf("closing tracker: %w", err)
	}

	fmt.Println("✅ Stopped gracefully")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing Muninn data directory in %s\n", dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configPath := filepath.Join(dataDir, "muninn.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	configContent := `# Muninn configuration
database:
  data_dir: ` + dataDir + `
  snapshot_path: ` + filepath.Join(dataDir, "concepts.json") + `
  snapshot_interval: 10m

memory:
  decay_rate: 0.1
  recalculate_interval: 1h
  similarity_threshold: 0.7
  memory_threshold: 0.6

scheduler:
  min_ease: 1.3
  initial_ease: 2.5
  min_review_interval: 1h
  max_review_interval: 2160h

reminder:
  cooldown: 2h
  max_per_run: 3
  poll_interval: 5m

retention:
  max_age: 4320h
  keep_above_score: 0.8
  keep_recently_reminded: 720h
  sweep_interval: 24h

embedding:
  provider: ollama
  api_url: http://localhost:11434
  model: mxbai-embed-large
  dimensions: 1024

server:
  enabled: true
  address: 127.0.0.1
  port: 7600
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the engine:  muninn serve --config", configPath)
	fmt.Println("  2. Post observations: curl -X POST http://localhost:7600/observations")

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(tracker *muninn.Tracker, cfg *config.Config) error {
		stats, err := tracker.Stats()
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}
		fmt.Println("📊 Concept Graph:")
		fmt.Printf("   Concepts:      %d\n", stats.Concepts)
		fmt.Printf("   Edges:         %d\n", stats.Edges)
		fmt.Printf("   Due for review: %d\n", stats.Due)
		fmt.Printf("   Average score: %.2f\n", stats.AverageScore)
		return nil
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(tracker *muninn.Tracker, cfg *config.Config) error {
		fmt.Println("🧹 Running retention sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := tracker.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweeping: %w", err)
		}
		fmt.Printf("✅ Examined %d concepts: deleted %d, archived %d, retained %d\n",
			result.Examined, result.Deleted, result.Archived, result.Retained)
		return nil
	})
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(tracker *muninn.Tracker, cfg *config.Config) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = cfg.Database.SnapshotPath
		}
		if output == "" {
			return fmt.Errorf("no snapshot path configured; pass --output")
		}
		if err := tracker.Store().SaveSnapshot(output); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		fmt.Printf("✅ Snapshot written to %s\n", output)
		return nil
	})
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

// withTracker opens the tracker for a one-shot maintenance command without
// starting the background loops, runs fn, and closes it.
func withTracker(cmd *cobra.Command, fn func(*muninn.Tracker, *config.Config) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Off-line commands should not need the embedding provider.
	cfg.Embedding.Provider = "none"
	cfg.Server.Enabled = false

	tracker, err := muninn.Open(cfg.Database.DataDir, cfg)
	if err != nil {
		return fmt.Errorf("opening tracker: %w", err)
	}
	defer tracker.Close()

	return fn(tracker, cfg)
}

func orMem(dataDir string) string {
	if dataDir == "" {
		return "(in-memory)"
	}
	return dataDir
}

func embeddingSummary(cfg *config.Config) string {
	switch cfg.Embedding.Provider {
	case "", "none":
		return "disabled (no similarity links)"
	default:
		return fmt.Sprintf("%s via %s (%s, %d dims)",
			cfg.Embedding.Model, cfg.Embedding.Provider, cfg.Embedding.APIURL, cfg.Embedding.Dimensions)
	}
}
