package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/engine"
	httpapi "github.com/sawpanic/evengine/internal/interfaces/http"
	"github.com/sawpanic/evengine/internal/metrics"
	"github.com/sawpanic/evengine/internal/persistence/postgres"
	"github.com/sawpanic/evengine/internal/persistence/rediscache"
	"github.com/sawpanic/evengine/internal/portfolio"
	mlsignal "github.com/sawpanic/evengine/internal/signal"
)

const (
	appName = "evengine"
	version = "v1.2.0"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Expected-value decision engine for automated trading",
		Version: version,
		Long: `evengine scores market snapshots, sizes entries by expected value,
and manages open positions with probability-weighted exit rules.
Feature extraction, model inference and order routing live outside;
this process turns snapshots into decisions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flagLogLevel)
		},
	}

	var pf *pflag.FlagSet = rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "path to engine yaml config (defaults apply when empty)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: trace|debug|info|warn|error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP decision API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "listen address override")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate [snapshot.json]",
		Short: "Evaluate one snapshot and print the decision",
		Long:  "Reads a trading-context snapshot from the given file (or stdin) and prints the decision as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEvaluate,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE:  runConfig,
	}

	rootCmd.AddCommand(serveCmd, evaluateCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogging picks console output for terminals, JSON otherwise.
func setupLogging(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if flagConfig == "" {
		return config.Default(), nil
	}
	return config.Load(flagConfig)
}

// buildEngine assembles the engine with optional persistence from the
// environment: EVENGINE_POSTGRES_DSN enables the audit repo.
func buildEngine(cfg *config.Config) (*engine.Engine, *metrics.Registry, error) {
	reg := metrics.NewRegistry()
	tracker := portfolio.NewTracker(cfg.Portfolio)

	opts := engine.Options{Metrics: reg}
	if dsn := os.Getenv("EVENGINE_POSTGRES_DSN"); dsn != "" {
		db, err := postgres.Connect(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("audit store: %w", err)
		}
		repo := postgres.NewRepo(db, 5*time.Second)
		opts.Repo = repo

		// Warm the performance window from persisted outcomes.
		outcomes, err := repo.RecentOutcomes(context.Background(), cfg.Portfolio.PerformanceWindow)
		if err != nil {
			log.Warn().Err(err).Msg("could not warm performance window")
		} else {
			for _, o := range outcomes {
				tracker.RecordOutcome(o)
			}
		}
	}

	if addr := os.Getenv("EVENGINE_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("EVENGINE_REDIS_PASSWORD"),
		})
		opts.Cache = rediscache.New(client, time.Minute)
	}

	// The snapshot carries the model output; the guard still bounds and
	// rate-limits the call path so a future out-of-process predictor
	// slots in without touching the engine.
	predictor := mlsignal.NewGuarded(mlsignal.FromSnapshot{}, cfg.Predictor)
	return engine.New(cfg, tracker, predictor, opts), reg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	eng, reg, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(cfg.Server, eng, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	input := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		input = f
	}

	var tc domain.TradingContext
	if err := json.NewDecoder(input).Decode(&tc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	eng, _, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	d := eng.Evaluate(cmd.Context(), &tc)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
