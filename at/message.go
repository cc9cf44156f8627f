package at

import (
	"bytes"
	"strconv"
	"strings"
)

// ControlOffset is the distance from the last comma of a text-mode +CMGR
// response (full headers enabled) to the first byte of the message body:
// the comma, the last header field, CR and LF.
const ControlOffset = 4

// ControlByte extracts the single-character command carried in the body of a
// message read with AT+CMGR. It locates the last comma of the response and
// returns the byte ControlOffset positions after it.
//
// ok is false when the response holds no comma or is too short to hold a
// byte at that offset.
func ControlByte(resp []byte) (b byte, ok bool) {
	i := bytes.LastIndexByte(resp, ',')
	if i < 0 {
		return 0, false
	}
	pos := i + ControlOffset
	if pos >= len(resp) {
		return 0, false
	}
	return resp[pos], true
}

// NewMessage is a parsed +CMTI notification.
type NewMessage struct {
	Storage string // e.g. "SM"
	Index   int    // register holding the message
}

// ParseNewMessage parses a +CMTI URC line such as `+CMTI: "SM",1`.
func ParseNewMessage(line string) (NewMessage, bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), UrcNewMsg)
	if !found {
		return NewMessage{}, false
	}
	storage, idx, found := strings.Cut(strings.TrimSpace(rest), ",")
	if !found {
		return NewMessage{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil || n < 0 {
		return NewMessage{}, false
	}
	return NewMessage{Storage: strings.Trim(storage, `"`), Index: n}, true
}

// FindNewMessage scans a receive-buffer snapshot for the first complete
// (CRLF-terminated) +CMTI line.
func FindNewMessage(data []byte) (NewMessage, bool) {
	msgs, _ := SplitNotifications(data)
	if len(msgs) == 0 {
		return NewMessage{}, false
	}
	return msgs[0], true
}

// SplitNotifications returns every complete +CMTI notification in data, in
// arrival order, and the length n of the prefix that can be dropped
// without losing one. data[n:] is an unterminated line that may still grow
// into a notification; it is empty otherwise.
func SplitNotifications(data []byte) (msgs []NewMessage, n int) {
	for n < len(data) {
		adv, tok, _ := Splitter(data[n:], false)
		if adv == 0 {
			break
		}
		n += adv
		line := string(tok)
		if Classify(line) != TypeURC {
			continue
		}
		if msg, ok := ParseNewMessage(line); ok {
			msgs = append(msgs, msg)
		}
	}
	if !mayBecomeNotification(data[n:]) {
		n = len(data)
	}
	return msgs, n
}

func mayBecomeNotification(tail []byte) bool {
	t := bytes.TrimLeft(tail, CRLF)
	return bytes.HasPrefix(t, []byte(UrcNewMsg)) || bytes.HasPrefix([]byte(UrcNewMsg), t)
}
