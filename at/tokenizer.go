package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter tokenizes modem output as it accumulates in the receive buffer.
// It has the bufio.SplitFunc signature so it also drives a bufio.Scanner.
//
// Lines end at CRLF. An echoed command ends at a bare CR, because the modem
// echoes the CR it was sent before starting its own CRLF framed reply. The
// SMS input prompt ("> ") is a token of its own.
//
// A CR at the very end of data is held back until the next byte shows
// whether it starts a CRLF.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[:len(Prompt)], nil
	}

	if i := bytes.IndexByte(data, '\r'); i >= 0 {
		switch {
		case i+1 < len(data) && data[i+1] == '\n':
			return i + len(CRLF), data[:i], nil
		case i+1 < len(data):
			return i + 1, data[:i], nil
		case atEOF:
			return len(data), data[:i], nil
		default:
			return 0, nil, nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of one line of modem output.
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg), strings.HasPrefix(line, UrcHTTPAction), line == UrcCall:
		return TypeURC
	case len(line) >= 2 && strings.EqualFold(line[:2], "AT"):
		return TypeEcho
	default:
		return TypeData
	}
}

// Lines splits a raw receive-buffer snapshot into non-empty response lines.
// Only terminated lines are returned unless complete is false, in which
// case a trailing partial line is included as well.
func Lines(data []byte, complete bool) []string {
	var out []string
	for len(data) > 0 {
		adv, tok, _ := Splitter(data, !complete)
		if adv == 0 {
			break
		}
		data = data[adv:]
		if line := string(tok); line != "" {
			out = append(out, line)
		}
	}
	return out
}
