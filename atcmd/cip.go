package atcmd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/conn"
	"i4.energy/across/atgw/tlsconf"
)

func connectionID(field string) (int, error) {
	return command.IntIn(field, 0, conn.MaxConnections-1)
}

func port(field string) (int, error) {
	return command.IntIn(field, 1, 65535)
}

func dataLength(field string) (int, error) {
	return command.IntIn(field, 0, math.MaxInt32)
}

func cipStart(pool *conn.Pool, logger *slog.Logger) command.Command {
	return &basic{
		name:   "Start IP connection",
		sig:    "at+cipstart",
		usage:  "AT+CIPSTART=<connection id>,<type>,<remote IP>,<remote port>[,<keepalive>]",
		counts: []int{4, 5},
		parse: func(fields []string) (command.Invocation, error) {
			if err := command.NonEmpty(fields[:4]...); err != nil {
				return nil, err
			}
			id, err := connectionID(fields[0])
			if err != nil {
				return nil, err
			}
			kind, err := conn.ParseKind(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: %w", command.ErrInvalidParams, err)
			}
			p, err := port(fields[3])
			if err != nil {
				return nil, err
			}
			keepalive, err := command.IntIn(command.Optional(fields, 4, "0"), 0, 7200)
			if err != nil {
				return nil, err
			}
			addr := fields[2]

			return command.InvocationFunc(func(ctx context.Context, _ command.Console) (bool, string, error) {
				if err := pool.Start(ctx, id, kind, addr, p, time.Duration(keepalive)*time.Second); err != nil {
					logger.Error("Failed to start connection", "id", id, "error", err)
					return true, at.ERROR, nil
				}
				return ok()
			}), nil
		},
	}
}

func cipClose(pool *conn.Pool, logger *slog.Logger) command.Command {
	return &basic{
		name:   "Close IP connection",
		sig:    "at+cipclose",
		usage:  "AT+CIPCLOSE=<connection id>",
		counts: []int{1},
		parse: func(fields []string) (command.Invocation, error) {
			id, err := connectionID(fields[0])
			if err != nil {
				return nil, err
			}
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				if err := pool.Close(id); err != nil {
					logger.Error("Failed to close connection", "id", id, "error", err)
					return true, at.ERROR, nil
				}
				return ok()
			}), nil
		},
	}
}

type cipSendInvocation struct {
	pool   *conn.Pool
	logger *slog.Logger
	id     int
	length int
}

func cipSend(pool *conn.Pool, logger *slog.Logger) command.Command {
	return &basic{
		name:   "Send IP data",
		sig:    "at+cipsend",
		usage:  "AT+CIPSEND=<connection id>,<length>",
		counts: []int{2},
		parse: func(fields []string) (command.Invocation, error) {
			id, err := connectionID(fields[0])
			if err != nil {
				return nil, err
			}
			length, err := dataLength(fields[1])
			if err != nil {
				return nil, err
			}
			return &cipSendInvocation{pool: pool, logger: logger, id: id, length: length}, nil
		},
	}
}

func (c *cipSendInvocation) Execute(_ context.Context, con command.Console) (bool, string, error) {
	busy, err := c.pool.Busy(c.id)
	if err != nil {
		c.logger.Error("Cannot send", "id", c.id, "error", err)
		return true, at.ERROR, nil
	}
	if !busy {
		con.Output(at.Prompt, true, false)
	}

	out, err := c.pool.Send(c.id, c.length)
	if err != nil {
		c.logger.Error("Send failed", "id", c.id, "error", err)
		return true, at.ERROR, nil
	}

	switch out.Kind {
	case bulk.Complete:
		return ok()
	case bulk.Aborted:
		c.logger.Info("Escaping data mode", "id", c.id)
		con.Write(at.CRLF)
		return true, "", nil
	default:
		return false, "", nil
	}
}

// Abort drops the pending send.
func (c *cipSendInvocation) Abort() {
	c.pool.CancelSend(c.id)
}

// tlsFields parses <mode>,<check hostname>,<key>,<cert>,<ca>. Missing
// trailing fields are empty.
func tlsFields(dir string, fields []string) (tlsconf.Options, error) {
	get := func(i int) string { return command.Optional(fields, i, "") }

	mode, err := command.IntIn(get(0), int(tlsconf.NoAuth), int(tlsconf.MutualAuth))
	if err != nil {
		return tlsconf.Options{}, err
	}
	opts := tlsconf.Options{Mode: tlsconf.Mode(mode)}

	hostname := get(1)
	if hostname != "" {
		if opts.VerifyHostname, err = command.Bool(hostname); err != nil {
			return tlsconf.Options{}, err
		}
	}

	path := func(name string) string {
		if name == "" {
			return ""
		}
		return filepath.Join(dir, name)
	}
	opts.KeyPath = path(get(2))
	opts.CertPath = path(get(3))
	opts.CAPath = path(get(4))

	if err := opts.Validate(); err != nil {
		return tlsconf.Options{}, fmt.Errorf("%w: %w", command.ErrInvalidParams, err)
	}
	if (opts.Mode == tlsconf.ClientVerifyServer || opts.Mode == tlsconf.MutualAuth) && hostname == "" {
		return tlsconf.Options{}, fmt.Errorf("%w: %s requires the hostname flag", command.ErrInvalidParams, opts.Mode)
	}
	return opts, nil
}

func cipSSL(pool *conn.Pool, dir string, logger *slog.Logger) command.Command {
	return &basic{
		name:   "Configure CIP SSL",
		sig:    "at+cipssl",
		usage:  "AT+CIPSSL=<connection id>,<auth mode>[,<check hostname>][,<key>,<cert>][,<ca>]",
		counts: []int{2, 3, 4, 5, 6},
		parse: func(fields []string) (command.Invocation, error) {
			id, err := connectionID(fields[0])
			if err != nil {
				return nil, err
			}
			opts, err := tlsFields(dir, fields[1:])
			if err != nil {
				return nil, err
			}
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				if err := pool.ConfigureTLS(id, opts); err != nil {
					logger.Error("Failed to configure CIP SSL", "id", id, "error", err)
					return true, at.ERROR, nil
				}
				return ok()
			}), nil
		},
	}
}
