package atcmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/httpclient"
)

func httpConf(svc *httpclient.Service) command.Command {
	return &basic{
		name:   "Configure HTTP transaction",
		sig:    "at+httpconf",
		usage:  "AT+HTTPCONF=<host>,<port>,<method>,<route>[,<timeout>]",
		counts: []int{4, 5},
		parse: func(fields []string) (command.Invocation, error) {
			if err := command.NonEmpty(fields...); err != nil {
				return nil, err
			}
			p, err := port(fields[1])
			if err != nil {
				return nil, err
			}
			n, err := command.Int(fields[2])
			if err != nil {
				return nil, err
			}
			method, err := httpclient.Method(n)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", command.ErrInvalidParams, err)
			}
			timeout, err := command.IntIn(command.Optional(fields, 4, "10"), 1, 3600)
			if err != nil {
				return nil, err
			}
			tx := httpclient.Transaction{
				Host:    fields[0],
				Port:    p,
				Method:  method,
				Route:   fields[3],
				Timeout: time.Duration(timeout) * time.Second,
			}
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				svc.Configure(tx)
				return ok()
			}), nil
		},
	}
}

func httpAddHeader(svc *httpclient.Service) command.Command {
	return &basic{
		name:   "Add HTTP header",
		sig:    "at+httpaddhdr",
		usage:  "AT+HTTPADDHDR=<key>,<value>",
		counts: []int{2},
		parse: func(fields []string) (command.Invocation, error) {
			if err := command.NonEmpty(fields...); err != nil {
				return nil, err
			}
			key, value := fields[0], fields[1]
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				svc.AddHeader(key, value)
				return ok()
			}), nil
		},
	}
}

func httpResponseHeaders(svc *httpclient.Service) command.Command {
	return &basic{
		name:   "Enable HTTP response headers",
		sig:    "at+httprshdr",
		usage:  "AT+HTTPRSHDR=<enabled>",
		counts: []int{1},
		parse: func(fields []string) (command.Invocation, error) {
			enabled, err := command.Bool(fields[0])
			if err != nil {
				return nil, err
			}
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				flag := 0
				if svc.SetResponseHeaders(enabled) {
					flag = 1
				}
				return true, fmt.Sprintf("+HTTPRSHDR: %d%s%s", flag, at.CRLF, at.OK), nil
			}), nil
		},
	}
}

func httpClear(svc *httpclient.Service) command.Command {
	return &basic{
		name:   "Clear HTTP configuration",
		sig:    "at+httpclr",
		usage:  "AT+HTTPCLR",
		counts: []int{0},
		parse: noParams(func(context.Context, command.Console) (bool, string, error) {
			svc.Clear()
			return ok()
		}),
	}
}

func httpSSL(svc *httpclient.Service, dir string, logger *slog.Logger) command.Command {
	return &basic{
		name:   "Configure HTTP SSL",
		sig:    "at+httpssl",
		usage:  "AT+HTTPSSL=<auth mode>,<check hostname>,<key>,<cert>,<ca>",
		counts: []int{5},
		parse: func(fields []string) (command.Invocation, error) {
			opts, err := tlsFields(dir, fields)
			if err != nil {
				return nil, err
			}
			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				if err := svc.ConfigureTLS(opts); err != nil {
					logger.Error("Failed to configure HTTP SSL", "error", err)
					return true, at.ERROR, nil
				}
				return ok()
			}), nil
		},
	}
}

type httpExecuteInvocation struct {
	svc    *httpclient.Service
	logger *slog.Logger
	length int
}

func httpExecute(svc *httpclient.Service, logger *slog.Logger) command.Command {
	return &basic{
		name:   "Execute HTTP transaction",
		sig:    "at+httpexe",
		usage:  "AT+HTTPEXE[=<length>]",
		counts: []int{0, 1},
		parse: func(fields []string) (command.Invocation, error) {
			length, err := dataLength(command.Optional(fields, 0, "0"))
			if err != nil {
				return nil, err
			}
			return &httpExecuteInvocation{svc: svc, logger: logger, length: length}, nil
		},
	}
}

func (h *httpExecuteInvocation) Execute(ctx context.Context, con command.Console) (bool, string, error) {
	if h.length > 0 && !h.svc.Busy() {
		con.Output(at.Prompt, true, false)
	}

	resp, out, err := h.svc.Execute(ctx, h.length)
	if err != nil {
		h.logger.Error("HTTP transaction failed", "error", err)
		return true, at.ERROR, nil
	}

	switch out.Kind {
	case bulk.Complete:
		return true, "+HTTPEXE: " + resp + at.CRLF + at.OK, nil
	case bulk.Aborted:
		h.logger.Info("Escaping data mode")
		con.Write(at.CRLF)
		return true, "", nil
	default:
		return false, "", nil
	}
}

// Abort drops the body being uploaded.
func (h *httpExecuteInvocation) Abort() {
	h.svc.Cancel()
}
