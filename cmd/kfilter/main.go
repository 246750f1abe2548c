// Package main provides the kfilter CLI entry point.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/scalarkalman/pkg/config"
	"github.com/orneryd/scalarkalman/pkg/filter"
	"github.com/orneryd/scalarkalman/pkg/logging"
	"github.com/orneryd/scalarkalman/pkg/registry"
	"github.com/orneryd/scalarkalman/pkg/series"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kfilter",
		Short: "kfilter - scalar Kalman filter for observation streams",
		Long: `kfilter runs a one-dimensional Kalman filter (no control input)
over a sequence of scalar observations.

Model:
  x[t+1] = A*x[t] + w,  w ~ N(0, Q)
  z[t]   = H*x[t] + v,  v ~ N(0, R)

Each observation is one predict + update step. A step fails when the
innovation variance |H*P*H + R| drops below 1e-8.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search ~/.kfilter, ./kfilter.yaml, ~/.config/kfilter)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text, json")
	rootCmd.PersistentFlags().String("log-output", "", "Log output: stderr, stdout or file path")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kfilter v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Run command
	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Filter a sequence of observations",
		Long:  "Read observations from a file (or stdin), filter them as one batch and print the estimates.\nNo output is written if any step fails.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	addModelFlags(runCmd)
	runCmd.Flags().String("input-format", "", "Input format: auto, text, csv, json")
	runCmd.Flags().Int("column", 0, "CSV column holding observations (0-based)")
	runCmd.Flags().String("json-path", "", "gjson path selecting observations in JSON input")
	runCmd.Flags().String("output", "", "Output file (- for stdout)")
	runCmd.Flags().String("output-format", "", "Output format: text, json, table")
	runCmd.Flags().Float64("residual-sigma", 0, "Warn when |residual| exceeds this many standard deviations (0 disables)")
	rootCmd.AddCommand(runCmd)

	// Step command
	stepCmd := &cobra.Command{
		Use:   "step <z>...",
		Short: "Advance a filter one observation at a time, printing x and P",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStep,
	}
	addModelFlags(stepCmd)
	rootCmd.AddCommand(stepCmd)

	// Forecast command
	forecastCmd := &cobra.Command{
		Use:   "forecast",
		Short: "Propagate x0 and P0 forward with no observations",
		Args:  cobra.NoArgs,
		RunE:  runForecast,
	}
	addModelFlags(forecastCmd)
	forecastCmd.Flags().Int("steps", 10, "Number of steps to forecast")
	rootCmd.AddCommand(forecastCmd)

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
	addModelFlags(configCmd)
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// addModelFlags registers the model flags shared by every filtering command.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("preset", "", "Model preset: "+strings.Join(config.PresetNames(), ", "))
	cmd.Flags().Float64("a", 0, "State transition coefficient A")
	cmd.Flags().Float64("h", 0, "Observation coefficient H")
	cmd.Flags().Float64("q", 0, "Process noise variance Q")
	cmd.Flags().Float64("r", 0, "Measurement noise variance R")
	cmd.Flags().Float64("x0", 0, "Initial state estimate")
	cmd.Flags().Float64("p0", 0, "Initial estimate variance")
}

// loadConfig resolves defaults, config file, environment and flags, in that
// order, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("preset") {
		name, _ := flags.GetString("preset")
		preset, ok := config.Presets[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", name)
		}
		cfg.Model.Preset = strings.ToLower(name)
		cfg.Model.Filter = preset()
	}

	m := &cfg.Model.Filter
	for name, dst := range map[string]*float64{
		"a":  &m.Transition,
		"h":  &m.Observation,
		"q":  &m.ProcessNoise,
		"r":  &m.MeasurementNoise,
		"x0": &m.InitialState,
		"p0": &m.InitialCovariance,
	} {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetFloat64(name)
		}
	}

	stringFlags := map[string]*string{
		"log-level":     &cfg.Logging.Level,
		"log-format":    &cfg.Logging.Format,
		"log-output":    &cfg.Logging.Output,
		"input-format":  &cfg.Input.Format,
		"json-path":     &cfg.Input.JSONPath,
		"output":        &cfg.Output.Path,
		"output-format": &cfg.Output.Format,
	}
	for name, dst := range stringFlags {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Lookup("column") != nil && flags.Changed("column") {
		cfg.Input.Column, _ = flags.GetInt("column")
	}
	if flags.Lookup("residual-sigma") != nil && flags.Changed("residual-sigma") {
		cfg.Monitor.ResidualSigma, _ = flags.GetFloat64("residual-sigma")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Input.Path = args[0]
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Debug("loaded config", "config", cfg.String())

	inFormat, err := series.ParseFormat(cfg.Input.Format)
	if err != nil {
		return err
	}
	outFormat, err := series.ParseOutputFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(cmd, cfg.Input.Path)
	if err != nil {
		return err
	}
	observations, err := series.Read(in, inFormat, series.ReadOptions{
		Column: cfg.Input.Column,
		Path:   cfg.Input.JSONPath,
	})
	closeIn()
	if err != nil {
		return err
	}
	logger.Debug("observations read", "count", len(observations), "source", cfg.Input.Path)

	f := filter.NewScalarFromConfig(cfg.Model.Filter)
	res, err := series.Run(f, observations, series.RunOptions{
		ResidualSigma: cfg.Monitor.ResidualSigma,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("filter failed", "error", err)
		return err
	}

	out, closeOut, err := openOutput(cmd, cfg.Output.Path)
	if err != nil {
		return err
	}
	if err := series.Write(out, res, outFormat); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func runStep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	observations := make([]float64, len(args))
	for i, arg := range args {
		z, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid observation %q", arg)
		}
		observations[i] = z
	}

	reg := registry.New(logger)
	h := reg.Create(cfg.Model.Filter)
	defer reg.Remove(h)

	w := cmd.OutOrStdout()
	for i, z := range observations {
		x, err := reg.Advance(h, z)
		if err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		stats, err := reg.Stats(h)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s\n", formatFloat(x), formatFloat(stats.Covariance))
	}
	return nil
}

func runForecast(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	steps, _ := cmd.Flags().GetInt("steps")
	if steps < 0 {
		return fmt.Errorf("steps must be >= 0, got %d", steps)
	}

	f := filter.NewScalarFromConfig(cfg.Model.Filter)
	w := cmd.OutOrStdout()
	for i := 1; i <= steps; i++ {
		x, p := f.Forecast(i)
		fmt.Fprintf(w, "%d %s %s\n", i, formatFloat(x), formatFloat(p))
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, f.Close, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
