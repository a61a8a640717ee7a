// Command ayni evaluates multi-layer exchanges for reciprocity and trust.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/config"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/logging"
)

var (
	configPath string
	verbose    bool
	traceFile  string
	logger     *zap.Logger
)

// stopTracing flushes spans when --trace-file is set.
var stopTracing = func(context.Context) error { return nil }

// #region root
var rootCmd = &cobra.Command{
	Use:   "ayni",
	Short: "Reciprocity and trust evaluation for multi-layer exchanges",
	Long: `ayni judges each layer of an exchange (system, user, assistant) with one or more
judgment oracles, derives a trust field between layers, and aggregates an ayni balance.
Role confusion and instruction override always end in an extractive verdict.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level, false)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		stopTracing, err = openTraceFile(traceFile)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to ayni.yaml (defaults plus AYNI_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace-file", "", "write OpenTelemetry spans as JSON to this file")
	rootCmd.AddCommand(evaluateCmd, deliberateCmd, replayCmd, inspectCmd, serveOracleCmd)
}

func main() {
	err := rootCmd.Execute()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := stopTracing(ctx); serr != nil && logger != nil {
		logger.Warn("trace shutdown failed", zap.Error(serr))
	}
	if err != nil {
		os.Exit(1)
	}
}

// #endregion root

// #region helpers
// loadConfig reads the configuration and rebuilds the logger from its logging section.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	l, err := logging.New(level, cfg.Logging.Development)
	if err != nil {
		return config.Config{}, err
	}
	logger = l
	return cfg, nil
}

// readLayers reads a JSON array of layers from path, or stdin when path is "-" or empty.
func readLayers(path string, stdin io.Reader) ([]judgment.Layer, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read layers: %w", err)
	}
	var layers []judgment.Layer
	if err := json.Unmarshal(data, &layers); err != nil {
		return nil, fmt.Errorf("parse layers: %w", err)
	}
	return layers, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
