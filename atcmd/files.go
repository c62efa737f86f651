package atcmd

import (
	"context"
	"fmt"
	"log/slog"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/bulk"
	"i4.energy/across/atgw/command"
	"i4.energy/across/atgw/files"
)

type filesUploadInvocation struct {
	store  *files.Store
	logger *slog.Logger
	kind   files.Kind
	length int
	// name is the certificate name, or the import password otherwise.
	name string
	mode files.Mode
}

func filesUpload(store *files.Store, logger *slog.Logger) command.Command {
	return &hinted{basic{
		name:   "Upload files",
		sig:    "at+filesup",
		usage:  "AT+FILESUP=<type>,<length>[,<name>][,<password>][,<mode>]",
		counts: []int{2, 3, 4},
		parse: func(fields []string) (command.Invocation, error) {
			kind, err := command.IntIn(fields[0], int(files.Cert), int(files.Config))
			if err != nil {
				return nil, err
			}
			length, err := dataLength(fields[1])
			if err != nil {
				return nil, err
			}
			mode, err := command.IntIn(command.Optional(fields, 3, "0"), int(files.Overwrite), int(files.Append))
			if err != nil {
				return nil, err
			}
			inv := &filesUploadInvocation{
				store:  store,
				logger: logger,
				kind:   files.Kind(kind),
				length: length,
				name:   command.Optional(fields, 2, ""),
				mode:   files.Mode(mode),
			}
			if inv.kind == files.Cert {
				if _, err := store.Path(inv.kind, inv.name); err != nil {
					return nil, fmt.Errorf("%w: %w", command.ErrInvalidParams, err)
				}
			}
			return inv, nil
		},
	}}
}

func (f *filesUploadInvocation) Execute(_ context.Context, con command.Console) (bool, string, error) {
	if !f.store.Busy() {
		con.Write(at.CRLF + at.Prompt)
	}

	out := f.store.Upload(f.length)
	switch out.Kind {
	case bulk.Complete:
	case bulk.Aborted:
		return true, at.EscapeNotice, nil
	default:
		return false, "", nil
	}

	name := ""
	if f.kind == files.Cert {
		name = f.name
	}
	if _, err := f.store.Save(f.kind, name, out.Payload, f.mode); err != nil {
		f.logger.Error("Error uploading file", "kind", f.kind, "error", err)
		return true, at.ERROR, nil
	}
	return ok()
}

// Abort drops the upload.
func (f *filesUploadInvocation) Abort() {
	f.store.Cancel()
}
