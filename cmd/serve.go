package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"i4.energy/across/atgw/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the AT command interface",
	Long: `Opens the serial line and serves AT commands on it until interrupted.

Example usage:
  atgw serve --serial-port /dev/ttyS1 --data-dir /var/lib/atgw
  atgw serve --websocket-url ws://bridge.local/serial --echo=false`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("echo", true, "Echo received characters after start")
	serveCmd.Flags().Bool("debug", false, "Write interpreter traces to the serial line")
	serveCmd.Flags().String("data-dir", "/var/lib/atgw", "Directory for uploaded files and firmware")
	serveCmd.Flags().String("client-ssl-dir", "", "Directory holding TLS keys and certificates (default <data-dir>/certs)")
	serveCmd.Flags().Duration("dial-timeout", 30*time.Second, "Timeout for outgoing connections")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(config.LogLevel)

	dialer, err := config.Dialer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("open serial line: %w", err)
	}

	gw, err := gateway.New(t, gateway.Config{
		DataDir:      config.DataDir,
		ClientSSLDir: config.ClientSSLDir,
		Version:      version,
		Echo:         config.Echo,
		Debug:        config.Debug,
		DialTimeout:  config.DialTimeout,
	}, gateway.WithLogger(logger))
	if err != nil {
		t.Close()
		return err
	}

	logger.Info("Starting AT gateway", "version", version, "serial_port", config.SerialPort, "websocket_url", config.WebSocketURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return gw.Close()
	})

	err = g.Wait()
	if ctx.Err() != nil {
		// Interrupted: closing the line may surface as a read error.
		if err != nil {
			logger.Debug("Error during shutdown", "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	return nil
}
