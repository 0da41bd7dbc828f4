package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"campusrag/config"
	"campusrag/internal/logger"
	"campusrag/internal/observability"
)

// Version is stamped by the release build.
var Version = "dev"

var (
	cfgFile   string
	cfg       *config.Config
	rootDir   string
	logLevel  string
	logFormat string
	log       *slog.Logger
	tracer    *observability.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:   "campusrag",
	Short: "Campus RAG - multi-domain retrieval for university, faculty and city content",
	Long: `campusrag ingests crawled pages into one embedding store per knowledge
domain (the university, its computer science faculty and the city of
Magdeburg), routes each question to the domains it concerns and merges the
nearest chunks into a cited, token-bounded context.

Example usage:
  campusrag init                                  # Create config and stores
  campusrag ingest --domain fin ./crawl/fin       # Load crawled chunks
  campusrag route -q "Wann öffnet die Mensa?"     # Show the routing decision
  campusrag query -q "exam registration deadline" # Search the routed domains
  campusrag pack -q "master admission" -b 2000    # Pack context for an LLM`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		// A missing .env is fine; real environment variables still apply.
		_ = godotenv.Load(filepath.Join(rootDir, ".env"))

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log, err = logger.Setup(logger.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		if err != nil {
			return err
		}

		tracer, err = observability.InitTracing(cmd.Context(), &observability.TracingConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			Environment:    cfg.Tracing.Environment,
			OTLPEndpoint:   cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if tracer == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./campusrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// GetLogger returns the logger configured for the current command.
func GetLogger() *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
