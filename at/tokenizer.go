package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing gateway responses on the DTE side. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the data mode input prompt ("> ").
//
// Responses are framed with a leading CRLF, so empty tokens are expected
// between lines and callers are supposed to skip them.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match data mode prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the gateway output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, EscapeNotice:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, InvalidParams):
		return TypeFinal
	case strings.HasPrefix(line, UrcIP), strings.HasPrefix(line, UrcIPData), line == Ready:
		return TypeURC
	default:
		return TypeData
	}
}
