package atcmd

import (
	"context"
	"fmt"
	"log/slog"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/firmware"
)

type fwSendInvocation struct {
	stager *firmware.Stager
	logger *slog.Logger
	length int
	// sent counts the bytes already written to the staging file.
	sent int
}

func fwSend(stager *firmware.Stager, logger *slog.Logger) command.Command {
	return &hinted{basic{
		name:   "Send a firmware update chunk",
		sig:    "at+fwsend",
		usage:  "AT+FWSEND=<length>",
		counts: []int{1},
		parse: func(fields []string) (command.Invocation, error) {
			length, err := dataLength(fields[0])
			if err != nil {
				return nil, err
			}
			return &fwSendInvocation{stager: stager, logger: logger, length: length}, nil
		},
	}}
}

func (f *fwSendInvocation) Execute(_ context.Context, con command.Console) (bool, string, error) {
	if status := f.stager.Status(); status != firmware.Updating {
		f.logger.Error("Firmware data refused", "status", status)
		return true, at.ERROR, nil
	}
	if !f.stager.Busy() && f.sent == 0 {
		con.Write(at.CRLF + at.Prompt)
	}

	out := f.stager.Receive(f.length - f.sent)
	switch out.Kind {
	case bulk.Complete, bulk.PartialComplete:
	case bulk.Aborted:
		return true, at.EscapeNotice, nil
	default:
		return false, "", nil
	}

	if err := f.stager.WriteChunk(out.Payload); err != nil {
		f.logger.Error("Error sending the firmware update", "error", err)
		f.stager.CancelTransfer()
		return true, at.ERROR, nil
	}
	f.sent += out.Length
	if out.Kind == bulk.PartialComplete {
		return false, "", nil
	}

	if err := f.stager.Finish(); err != nil {
		f.logger.Error("Error finishing the firmware update", "error", err)
		return true, at.ERROR, nil
	}
	return true, fmt.Sprintf("+FWSEND: %d%s%s", f.length, at.CRLF, at.OK), nil
}

// Abort drops the data mode transfer. The update itself stays active.
func (f *fwSendInvocation) Abort() {
	f.stager.CancelTransfer()
}

func fwRun(stager *firmware.Stager, logger *slog.Logger) command.Command {
	return &hinted{basic{
		name:   "Start/Stop firmware update",
		sig:    "at+fwrun",
		usage:  "AT+FWRUN=<mode>[,<image>[,<url>]]",
		counts: []int{1, 2, 3},
		parse: func(fields []string) (command.Invocation, error) {
			if err := command.NonEmpty(fields...); err != nil {
				return nil, err
			}
			start, err := command.Bool(fields[0])
			if err != nil {
				return nil, err
			}
			image := command.Optional(fields, 1, "")
			url := command.Optional(fields, 2, "")

			return command.InvocationFunc(func(context.Context, command.Console) (bool, string, error) {
				if !start {
					stager.Cancel()
					return ok()
				}
				if err := stager.Start(image, url); err != nil {
					logger.Error("Error starting firmware update", "error", err)
					return true, at.ERROR, nil
				}
				return ok()
			}), nil
		},
	}}
}

func fwStatus(stager *firmware.Stager) command.Command {
	return &hinted{basic{
		name:   "Get firmware update status",
		sig:    "at+fwstatus",
		usage:  "AT+FWSTATUS",
		counts: []int{0},
		parse: noParams(func(context.Context, command.Console) (bool, string, error) {
			return true, fmt.Sprintf("+FWSTATUS: %d%s%s", int(stager.Status()), at.CRLF, at.OK), nil
		}),
	}}
}
