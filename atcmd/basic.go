package atcmd

import (
	"context"
	"fmt"

	"i4.energy/across/atgw/at"
	"i4.energy/across/atgw/command"
)

type echoSetter interface {
	SetEcho(on bool)
}

func communicationCheck() command.Command {
	return &basic{
		name:   "Communication check",
		sig:    "at",
		usage:  "AT",
		counts: []int{0},
		parse: noParams(func(context.Context, command.Console) (bool, string, error) {
			return ok()
		}),
	}
}

func echo(sig string, on bool) command.Command {
	name, usage := "Disable echo", "ATE0"
	if on {
		name, usage = "Enable echo", "ATE1"
	}
	return &basic{
		name:   name,
		sig:    sig,
		usage:  usage,
		counts: []int{0},
		parse: noParams(func(_ context.Context, con command.Console) (bool, string, error) {
			e, isSetter := con.(echoSetter)
			if !isSetter {
				return true, "", fmt.Errorf("%T cannot switch echo", con)
			}
			e.SetEcho(on)
			return ok()
		}),
	}
}

func version(v string) command.Command {
	return &basic{
		name:   "Version",
		sig:    "at+ver",
		usage:  "AT+VER",
		counts: []int{0},
		parse: noParams(func(context.Context, command.Console) (bool, string, error) {
			return true, "+VER: " + v + at.CRLF + at.OK, nil
		}),
	}
}
