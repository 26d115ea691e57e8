// Package cli implements the netsweep command-line interface. It wires flag
// and config-file parsing into a validated sweep configuration and renders
// the engine's report; all scanning logic lives in the internal packages.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netsweep/netsweep/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "netsweep",
	Short: "Concurrent network reconnaissance engine",
	Long: `Netsweep sweeps a target address range, discovers live hosts, probes a
configurable port set on each, and classifies responding ports by inferred
service. Every run is a single bounded, stateless sweep.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./netsweep.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads the config file and environment before any command runs.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("netsweep")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NETSWEEP")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// initLogging configures the default logger from flags and config.
func initLogging() {
	cfg := logging.DefaultConfig()
	if level := viper.GetString("logging.level"); level != "" {
		cfg.Level = logging.LogLevel(level)
	}
	if format := viper.GetString("logging.format"); format != "" {
		cfg.Format = logging.LogFormat(format)
	}
	if output := viper.GetString("logging.output"); output != "" {
		cfg.Output = output
	}
	if verbose {
		cfg.Level = logging.LevelDebug
	}

	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
		return
	}
	logging.SetDefault(logger)
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets build information, called from main.
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
