package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bizdash/analytics"
	"bizdash/assistant"
	"bizdash/db"
	"bizdash/llm"
	"bizdash/server"
	"bizdash/session"
	"bizdash/utils"
)

var (
	version = "0.1.0"

	configPath  string
	addr        string
	seed        int64
	filtersJSON string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "bizdash",
	Short:         "Business dashboards with an LLM assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the dashboard HTTP API.

The configuration file is created with defaults when it does not exist.
BIZDASH_* environment variables override file settings.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var renderCmd = &cobra.Command{
	Use:   "render <page>",
	Short: "Render a dashboard page and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bizdash v%s\n", version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	renderCmd.Flags().Int64Var(&seed, "seed", session.DefaultSeed, "Dataset seed")
	renderCmd.Flags().StringVar(&filtersJSON, "filters", "", `Filters as JSON, e.g. {"predicates":[{"column":"regiao","kind":"equals","value":"Sul"}]}`)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*utils.Config, string, error) {
	path, err := utils.EnsureDefaultConfig(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create default config: %w", err)
	}
	cfg, err := utils.LoadConfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func limitsOf(cfg utils.DataConfig) db.Limits {
	return db.Limits{
		MaxConversation: cfg.MaxConversation,
		MaxSavedCode:    cfg.MaxSavedCode,
		MaxPlots:        cfg.MaxPlots,
		MaxUploads:      cfg.MaxUploads,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := utils.NewLogger(utils.GetLogPath(cfg.Logging.Dir), cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	logger.Info("Starting bizdash v%s", version)
	logger.Info("Using config file: %s", path)

	database, err := db.New(cfg.Data.DBPath, limitsOf(cfg.Data))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	logger.Info("Database initialized: %s", cfg.Data.DBPath)

	var provider llm.Provider
	if p, err := llm.Active(llm.NewProviders(cfg, logger), cfg.ActiveProvider); err != nil {
		logger.Warn("Chat is unavailable: %v", err)
	} else {
		provider = p
	}
	bridge := assistant.NewBridge(provider, cfg.Chat, cfg.Privacy, logger)
	manager := session.NewManager(database, bridge, cfg.Data, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(manager, cfg.Server, logger, version)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	var spec analytics.FilterSpec
	if filtersJSON != "" {
		if err := json.Unmarshal([]byte(filtersJSON), &spec); err != nil {
			return fmt.Errorf("invalid --filters: %w", err)
		}
	}

	database, err := db.New(":memory:", db.Limits{})
	if err != nil {
		return err
	}
	defer database.Close()

	manager := session.NewManager(database, nil, utils.DataConfig{}, nil)
	sess, err := manager.Create(args[0], seed)
	if err != nil {
		return err
	}
	view, err := sess.View(cmd.Context(), spec)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
