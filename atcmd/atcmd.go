// Package atcmd implements the AT commands served by the gateway.
package atcmd

import (
	"log/slog"
	"slices"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/conn"
	"i4.energy/across/atgw/files"
	"i4.energy/across/atgw/firmware"
	"i4.energy/across/atgw/httpclient"
)

// Deps are the services commands act on.
type Deps struct {
	Pool     *conn.Pool
	HTTP     *httpclient.Service
	Files    *files.Store
	Firmware *firmware.Stager
	// Version is reported by AT+VER.
	Version string
	// ClientSSLDir is prepended to key, certificate and CA names.
	ClientSSLDir string
	Logger       *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// All returns every command. Commands whose service is missing from deps
// are left out.
func All(deps Deps) []command.Command {
	logger := deps.logger().With("component", "atcmd")

	cmds := []command.Command{
		communicationCheck(),
		echo("ate0", false),
		echo("ate1", true),
		version(deps.Version),
	}
	if deps.Pool != nil {
		cmds = append(cmds,
			cipStart(deps.Pool, logger),
			cipSend(deps.Pool, logger),
			cipClose(deps.Pool, logger),
			cipSSL(deps.Pool, deps.ClientSSLDir, logger),
		)
	}
	if deps.HTTP != nil {
		cmds = append(cmds,
			httpConf(deps.HTTP),
			httpAddHeader(deps.HTTP),
			httpResponseHeaders(deps.HTTP),
			httpClear(deps.HTTP),
			httpSSL(deps.HTTP, deps.ClientSSLDir, logger),
			httpExecute(deps.HTTP, logger),
		)
	}
	if deps.Files != nil {
		cmds = append(cmds, filesUpload(deps.Files, logger))
	}
	if deps.Firmware != nil {
		cmds = append(cmds,
			fwSend(deps.Firmware, logger),
			fwRun(deps.Firmware, logger),
			fwStatus(deps.Firmware),
		)
	}
	return cmds
}

// basic implements command.Command from static fields.
type basic struct {
	name   string
	sig    string
	usage  string
	counts []int
	parse  func(fields []string) (command.Invocation, error)
}

func (c *basic) Name() string       { return c.name }
func (c *basic) Signature() string  { return c.sig }
func (c *basic) ParamCounts() []int { return slices.Clone(c.counts) }
func (c *basic) Usage() string      { return c.usage }

func (c *basic) Parse(fields []string) (command.Invocation, error) {
	return c.parse(fields)
}

// hinted answers invalid parameters with a pointer to the usage text.
type hinted struct {
	basic
}

func (c *hinted) Reject(error) string {
	return at.InvalidParamsFor(c.sig)
}

// noParams is the parser of commands that take no fields.
func noParams(fn command.InvocationFunc) func([]string) (command.Invocation, error) {
	return func([]string) (command.Invocation, error) {
		return fn, nil
	}
}

func ok() (bool, string, error) {
	return true, at.OK, nil
}
