package at

import (
	"fmt"
	"net"
	"strconv"
)

const (
	// Terminal Control
	CR        = "\r"
	CRLF      = "\r\n"
	Prompt    = "> "
	Backspace = 0x7f

	// Response Codes
	OK    = "OK"
	ERROR = "ERROR"
	Ready = "READY"

	// Data mode notices
	EscapeNotice  = "Escape Sequence '+++' detected: Exiting Data Mode"
	InvalidParams = "Invalid Parameters: See Usage - "

	// URCs (Unsolicited Result Codes)
	UrcIP     = "+IP:"
	UrcIPData = "+IPD:"

	// Prefix every command signature starts with
	CommandPrefix = "at"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+VER: ...)
	TypePrompt                     // Data mode input prompt
)

// Frame wraps text with the optional leading and trailing line breaks used
// for every response written to the DTE. Empty text stays empty.
func Frame(text string, leading, trailing bool) string {
	if text == "" {
		return ""
	}
	if leading {
		text = CRLF + text
	}
	if trailing {
		text += CRLF
	}
	return text
}

// InvalidParamsFor returns the usage hint for a command signature.
func InvalidParamsFor(signature string) string {
	return InvalidParams + signature + "?"
}

// Connected formats the URC announcing an established connection slot.
func Connected(id int) string {
	return fmt.Sprintf("%s %d,Connected", UrcIP, id)
}

// Disconnected formats the URC announcing a closed connection slot.
func Disconnected(id int) string {
	return fmt.Sprintf("%s %d,Disconnected", UrcIP, id)
}

// Received formats the URC carrying data read from a connection slot. A
// non-nil from produces the datagram variant with the source address.
func Received(id int, payload []byte, from net.Addr) string {
	if from == nil {
		return fmt.Sprintf("%s %d,%d,%s", UrcIPData, id, len(payload), payload)
	}
	host, port, err := net.SplitHostPort(from.String())
	if err != nil {
		host, port = from.String(), "0"
	}
	if _, err := strconv.Atoi(port); err != nil {
		port = "0"
	}
	return fmt.Sprintf("%s %d,%d,'%s',%s,%s", UrcIPData, id, len(payload), host, port, payload)
}
