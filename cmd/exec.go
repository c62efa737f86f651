package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"i4.energy/across/atgw/client"
)

var execCmd = &cobra.Command{
	Use:   "exec [command...]",
	Short: "Run AT commands against a gateway",
	Long: `Connects to a gateway from the host side and runs AT commands.

Commands given as arguments are run in order. Without arguments, commands are
read from stdin one per line, with a prompt when stdin is a terminal.
Unsolicited result codes are printed to stderr as they arrive.

With --data-file, a single data mode command is expected and the file is sent
after the gateway prompts for it.

Example usage:
  atgw exec --serial-port /dev/ttyUSB0 AT+VER
  atgw exec -p /dev/ttyUSB0 --data-file ca.pem 'AT+FILESUP=0,ca.pem,1131'
  atgw exec -u ws://bridge.local/serial`,
	RunE: runExec,
}

func init() {
	execCmd.Flags().Duration("timeout", 5*time.Second, "Timeout for each command")
	execCmd.Flags().String("data-file", "", "Payload for a data mode command")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	dataFile, _ := cmd.Flags().GetString("data-file")

	dialer, err := config.Dialer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientConfig, err := client.NewConfigBuilder().
		WithDialer(dialer).
		WithATTimeout(timeout).
		Build()
	if err != nil {
		return err
	}

	c, err := client.New(ctx, clientConfig)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer c.Close()

	loopErr := make(chan error, 1)
	go func() { loopErr <- c.Loop(ctx) }()
	go printURCs(ctx, c.URC(), cmd.ErrOrStderr())

	out := cmd.OutOrStdout()

	if dataFile != "" {
		if len(args) != 1 {
			return errors.New("--data-file needs exactly one command")
		}
		payload, err := os.ReadFile(dataFile)
		if err != nil {
			return fmt.Errorf("read data file: %w", err)
		}
		resp, err := c.SendData(ctx, args[0], payload)
		fmt.Fprintln(out, resp)
		return err
	}

	if len(args) > 0 {
		for _, line := range args {
			resp, err := c.Exec(ctx, line)
			fmt.Fprintln(out, resp)
			if err != nil {
				return err
			}
		}
		return nil
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return runLines(ctx, c, cmd.InOrStdin(), out, interactive, loopErr)
}

// runLines executes commands read from in until EOF. Failing commands are
// reported and do not stop an interactive session.
func runLines(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, interactive bool, loopErr <-chan error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive {
			fmt.Fprint(out, "at> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-loopErr:
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			resp, err := c.Exec(ctx, line)
			if resp != "" {
				fmt.Fprintln(out, resp)
			}
			if err != nil {
				if !interactive {
					return err
				}
				fmt.Fprintln(out, "error:", err)
			}
		}
	}
}

func printURCs(ctx context.Context, urcs <-chan string, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case urc := <-urcs:
			fmt.Fprintln(w, urc)
		}
	}
}
