// Package cmd implements the atgw command line.
package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X i4.energy/across/atgw/cmd.version=..."
var version = "dev"

var errNoLine = errors.New("either --serial-port or --websocket-url must be specified")

var rootCmd = &cobra.Command{
	Use:   "atgw",
	Short: "AT command gateway",
	Long: `atgw serves the AT command interface of the gateway on a serial line and
talks to it from the host side.

Connection modes:
  Serial:    --serial-port /dev/ttyS1 [--baud-rate 115200]
  WebSocket: --websocket-url ws://host/path

Settings are read, in increasing priority, from built-in defaults, the file
given by --config, ATGW_* environment variables and flags.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Configuration file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringP("serial-port", "p", "/dev/ttyS1", "Serial port device")
	rootCmd.PersistentFlags().IntP("baud-rate", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringP("websocket-url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig merges every configuration source for cmd.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return LoadConfig(WithDefaults(), WithConfigFile(path), WithEnv(), WithFlags(cmd.Flags()))
}

// newLogger returns a JSON logger on stderr at the named level.
func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
