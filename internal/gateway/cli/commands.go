package cli

// Package cli provides the aigen command tree: serve, version, config and
// health.
import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Denis-Chistyakov/aigen/internal/config"
	"github.com/Denis-Chistyakov/aigen/internal/version"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// ServeFunc runs the server until ctx is cancelled
type ServeFunc func(ctx context.Context, cfg *types.Config) error

type options struct {
	configFile string
	debug      bool

	healthURL     string
	healthTimeout time.Duration
	outputFormat  string
}

// NewRootCmd builds the command tree. Running it without a subcommand serves.
func NewRootCmd(serve ServeFunc) *cobra.Command {
	opts := &options{}

	serveRun := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(opts.configFile)
		if err != nil {
			return err
		}
		SetupLogging(cfg.Observability.Logging, opts.debug)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	}

	rootCmd := &cobra.Command{
		Use:   "aigen",
		Short: "AIGen - authenticated web search and image generation API",
		Long: `AIGen serves web search and image generation through remote MCP tools,
falling back to DuckDuckGo and Pollinations, and keeps a per-user history.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveRun,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default ./configs/aigen.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  serveRun,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Info()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "AIGen v%s\n", info["version"])
			fmt.Fprintf(out, "Commit: %s\n", info["git_commit"])
			fmt.Fprintf(out, "Built: %s\n", info["build_time"])
			fmt.Fprintf(out, "Go: %s\n", info["go_version"])
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			redacted := config.Redacted(cfg)
			if opts.outputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), redacted)
			}
			return printYAML(cmd.OutOrStdout(), redacted)
		},
	}
	configShowCmd.Flags().StringVar(&opts.outputFormat, "format", "yaml", "output format (yaml, json)")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth(cmd.OutOrStdout(), opts.healthURL, opts.healthTimeout)
		},
	}
	healthCmd.Flags().StringVar(&opts.healthURL, "url", "http://localhost:8000/health", "health endpoint URL")
	healthCmd.Flags().DurationVar(&opts.healthTimeout, "timeout", 5*time.Second, "request timeout")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd, healthCmd)

	return rootCmd
}

// Execute runs the command tree against os.Args
func Execute(serve ServeFunc) error {
	return NewRootCmd(serve).ExecuteContext(context.Background())
}

// SetupLogging configures the global zerolog logger
func SetupLogging(cfg types.LoggingConfig, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func checkHealth(out io.Writer, url string, timeout time.Duration) error {
	resp, err := client.New().SetTimeout(timeout).Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Close()

	var body map[string]interface{}
	if err := resp.JSON(&body); err != nil {
		return fmt.Errorf("invalid health response (status %d): %w", resp.StatusCode(), err)
	}
	if err := printJSON(out, body); err != nil {
		return err
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("server returned status %d", resp.StatusCode())
	}
	if status, _ := body["status"].(string); status != "healthy" {
		return fmt.Errorf("server is %s", status)
	}
	return nil
}

// Helper function to print JSON output
func printJSON(out io.Writer, data interface{}) error {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(bytes))
	return err
}

func printYAML(out io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}
