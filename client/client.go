// Package client talks to a running gateway from the host side of the serial
// line. It is used by the exec command of the CLI and by integration tests.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/transport"
)

// Client represents a host (DTE) connected to the gateway's AT interface.
// All transport I/O after construction happens in Loop.
type Client struct {
	// transport provides the physical connection to the gateway
	transport transport.Transport
	// atTimeout is the default timeout for AT command responses
	atTimeout time.Duration
	// closed indicates if the client has been shut down
	closed atomic.Bool
	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool

	// urcChan receives unsolicited result codes from the gateway
	urcChan chan string
	// commands queues requests for the Loop to process
	commands chan *commandRequest

	// loopCtx is cancelled by Close to stop the main event loop
	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// commandRequest is one write to the gateway and the wait for its answer.
type commandRequest struct {
	// wire is written verbatim to the transport
	wire []byte
	// label identifies the request in errors
	label string
	// respChan receives the response from the Loop
	respChan chan commandResponse
	// ctx provides timeout and cancellation control for the request
	ctx context.Context
}

type commandResponse struct {
	response string
	err      error
}

// New dials the gateway and checks that it answers. Echo is switched off so
// responses can be parsed.
func New(ctx context.Context, config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	tr, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	c := &Client{
		transport: tr,
		atTimeout: config.ATTimeout,
		urcChan:   make(chan string, 100),
		commands:  make(chan *commandRequest),
	}
	c.loopCtx, c.loopCancel = context.WithCancel(context.Background())

	initCtx, cancel := context.WithTimeout(ctx, config.InitTimeout)
	defer cancel()

	if err := c.init(initCtx); err != nil {
		c.loopCancel()
		if c.transport != nil {
			tr.Close()
		}
		return nil, fmt.Errorf("initialize client: %w", err)
	}

	return c, nil
}

// Loop is the single reader of the transport. It must be running before
// Exec or SendData are called and returns when ctx is cancelled, the client
// is closed, or the transport fails.
func (c *Client) Loop(ctx context.Context) error {
	if !c.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer c.loopRunning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.loopCtx, cancel)
	defer stop()

	scanner := bufio.NewScanner(c.transport)
	scanner.Split(at.Splitter)

	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token == "" {
				continue
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErrs <- err
		}
	}()

	var current *commandRequest
	var lines []string

	finish := func(resp commandResponse) {
		current.respChan <- resp
		current = nil
		lines = nil
	}

	for {
		select {
		case <-ctx.Done():
			if current != nil {
				finish(commandResponse{err: ctx.Err()})
			}
			return ctx.Err()

		case req := <-c.commands:
			current = req
			lines = nil
			if _, err := c.transport.Write(req.wire); err != nil {
				finish(commandResponse{err: fmt.Errorf("write %s: %w", req.label, err)})
			}

		case err := <-scanErrs:
			if current != nil {
				finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
			}
			return fmt.Errorf("scanner error: %w", err)

		case token, ok := <-tokens:
			if !ok {
				select {
				case err := <-scanErrs:
					if current != nil {
						finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
					}
					return fmt.Errorf("scanner error: %w", err)
				default:
				}
				if current != nil {
					finish(commandResponse{response: strings.Join(lines, "\n"), err: io.EOF})
				}
				return io.EOF
			}

			switch at.Classify(token) {
			case at.TypeURC:
				select {
				case c.urcChan <- token:
				default:
					// Nobody is listening; drop it.
				}

			case at.TypeFinal:
				if current == nil {
					continue
				}
				lines = append(lines, token)
				resp := commandResponse{response: strings.Join(lines, "\n")}
				if token != at.OK {
					resp.err = fmt.Errorf("%w: %s", ErrCommandFailed, token)
				}
				finish(resp)

			case at.TypeData:
				if current != nil {
					lines = append(lines, token)
				}

			case at.TypePrompt:
				if current != nil {
					lines = append(lines, token)
					finish(commandResponse{response: strings.Join(lines, "\n")})
				}
			}

			if current != nil {
				select {
				case <-current.ctx.Done():
					finish(commandResponse{err: fmt.Errorf("command timeout: %w", current.ctx.Err())})
				default:
				}
			}
		}
	}
}

// URC returns the channel receiving unsolicited result codes such as
// +IP and +IPD. The channel is buffered and drops codes nobody reads.
func (c *Client) URC() <-chan string {
	return c.urcChan
}

// Exec sends cmd and returns the response lines, joined by newlines, up to
// and including the final result. A final result other than OK is returned
// as ErrCommandFailed. A data prompt ends the response successfully.
func (c *Client) Exec(ctx context.Context, cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	return c.request(ctx, cmd, []byte(cmd+at.CR))
}

// SendData runs a data mode command: it sends cmd, waits for the prompt,
// writes payload and returns the final response.
func (c *Client) SendData(ctx context.Context, cmd string, payload []byte) (string, error) {
	resp, err := c.Exec(ctx, cmd)
	if err != nil {
		return resp, err
	}
	if !strings.HasSuffix(resp, at.Prompt) {
		return resp, fmt.Errorf("%w: %q", ErrNoPrompt, resp)
	}
	return c.request(ctx, fmt.Sprintf("%d bytes of data", len(payload)), payload)
}

// Close stops the loop and closes the transport. A Client cannot be reused.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	c.loopCancel()
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

func (c *Client) request(ctx context.Context, label string, wire []byte) (string, error) {
	if c.closed.Load() {
		return "", ErrAlreadyClosed
	}
	if c.transport == nil {
		return "", ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && c.atTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.atTimeout)
		defer cancel()
	}

	req := &commandRequest{
		wire:     wire,
		label:    label,
		respChan: make(chan commandResponse, 1),
		ctx:      ctx,
	}

	select {
	case c.commands <- req:
	case <-ctx.Done():
		return "", fmt.Errorf("command cancelled before sending: %w", ctx.Err())
	}

	select {
	case resp := <-req.respChan:
		return resp.response, resp.err
	case <-ctx.Done():
		return "", fmt.Errorf("command timeout: %w", ctx.Err())
	}
}

// init performs the start-up handshake directly on the transport, before
// Loop runs.
func (c *Client) init(ctx context.Context) error {
	if err := c.expectOkDirect(ctx, "AT"); err != nil {
		return fmt.Errorf("gateway not responding: %w", err)
	}
	if err := c.expectOkDirect(ctx, "ATE0"); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	return nil
}

// execDirect runs a command without the Loop. It must only be used during
// initialization.
func (c *Client) execDirect(ctx context.Context, cmd string) (string, error) {
	if c.closed.Load() {
		return "", ErrAlreadyClosed
	}
	if c.transport == nil {
		return "", ErrNotInitialized
	}

	if _, err := c.transport.Write([]byte(cmd + at.CR)); err != nil {
		return "", fmt.Errorf("write command %q: %w", cmd, err)
	}

	scanner := bufio.NewScanner(c.transport)
	scanner.Split(at.Splitter)

	var lines []string
	for {
		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n"), ctx.Err()
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return strings.Join(lines, "\n"), fmt.Errorf("read error: %w", err)
			}
			return strings.Join(lines, "\n"), io.EOF
		}

		token := scanner.Text()
		if token == "" {
			continue
		}

		switch at.Classify(token) {
		case at.TypeFinal:
			lines = append(lines, token)
			response := strings.Join(lines, "\n")
			if token != at.OK {
				return response, fmt.Errorf("%w: %s", ErrCommandFailed, token)
			}
			return response, nil
		case at.TypeData:
			lines = append(lines, token)
		case at.TypeURC:
			// READY and connection codes are not answers.
			continue
		case at.TypePrompt:
			lines = append(lines, token)
			return strings.Join(lines, "\n"), nil
		}
	}
}

func (c *Client) expectOkDirect(ctx context.Context, cmd string) error {
	resp, err := c.execDirect(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, at.OK) {
		return fmt.Errorf("unexpected response: %q", resp)
	}
	return nil
}
