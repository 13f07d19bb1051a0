package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rojolang/bidi-live-go/pkg/live"
)

var (
	verbose     bool
	configPath  string
	apiKey      string
	endpoint    string
	model       string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "livechat",
		Short: "Live session CLI",
		Long:  "A command-line client for bidirectional live generation sessions",
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (overrides LIVE_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "WebSocket endpoint URL")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model name")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(textCmd())
	rootCmd.AddCommand(audioCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		live.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

// loadConfig builds the config from the environment, the optional YAML file
// and the global flags, and installs the matching global logger.
func loadConfig() *live.Config {
	cfg := live.NewConfig()
	if configPath != "" {
		loaded, err := live.LoadConfigFile(configPath)
		if err != nil {
			live.GetGlobalLogger().WithError(err).Fatal("Failed to load config file")
		}
		cfg = loaded
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if model != "" {
		cfg.Model = model
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	live.SetGlobalLogger(cfg.Logger(os.Stderr))
	return cfg
}

func mustValidate(cfg *live.Config) {
	if err := cfg.Validated(); err != nil {
		live.GetGlobalLogger().WithError(err).Fatal("Invalid configuration")
	}
}

// sessionOptions wires the optional metrics endpoint.
func sessionOptions() []live.Option {
	opts := []live.Option{
		live.WithLogger(live.GetGlobalLogger()),
	}
	if verbose {
		opts = append(opts, live.WithStateHandler(live.CreateLoggingStateHandler(live.GetGlobalLogger())))
	}
	if metricsAddr == "" {
		return opts
	}

	metrics := live.NewMetrics("livechat")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			live.GetGlobalLogger().WithError(err).Error("Metrics server stopped")
		}
	}()
	live.GetGlobalLogger().WithField("addr", metricsAddr).Info("Serving metrics")
	return append(opts, live.WithMetrics(metrics))
}

// connect returns a Ready session.
func connect(ctx context.Context, cfg *live.Config) (*live.Session, error) {
	session, err := live.NewSession(cfg, sessionOptions()...)
	if err != nil {
		return nil, err
	}
	if err := session.Connect(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// openSession connects a new session or exits.
func openSession(ctx context.Context, cfg *live.Config) *live.Session {
	session, err := connect(ctx, cfg)
	if err != nil {
		live.GetGlobalLogger().WithError(err).Fatal("Failed to connect")
	}
	return session
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printTurnSummary(res *live.TurnResult, err error) {
	if err != nil {
		fmt.Printf("\nTurn failed: %v\n", err)
	}
	if res == nil {
		return
	}
	fmt.Println()
	fmt.Printf("Complete: %v\n", res.Complete)
	if len(res.TextDeltas) > 0 {
		fmt.Printf("Text deltas: %d\n", len(res.TextDeltas))
	}
	if len(res.AudioBuffers) > 0 {
		fmt.Printf("Audio buffers: %d (%d bytes, %s)\n", len(res.AudioBuffers), len(res.Audio()), res.AudioMIMEType)
	}
	if res.Transcription != "" {
		fmt.Printf("Full Transcription: %s\n", res.Transcription)
	}
	if res.Usage != nil {
		fmt.Printf("Tokens: prompt=%d response=%d total=%d\n",
			res.Usage.PromptTokenCount, res.Usage.ResponseTokenCount, res.Usage.TotalTokenCount)
	}
}
