package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"i4.energy/across/polectl/at"
)

type mode int

const (
	modeCommand mode = iota
	modeSMSBody      // collecting an outgoing text until Ctrl-Z
	modeHTTPData     // collecting a fixed-length HTTP body
)

// Sent is one outgoing SMS or HTTP post captured by the simulator.
type Sent struct {
	Kind string // "sms" or "http"
	To   string // number or URL
	Body string
}

// sim answers the AT dialect the controller speaks the way a SIM800-class
// modem does in text mode. Writes go to out; Feed is called with whatever
// the controller sent.
type sim struct {
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	echo     bool
	mode     mode
	line     []byte
	pending  []byte
	want     int
	smsTo    string
	url      string
	status   int
	messages map[int]byte
	sent     []Sent
}

func newSim(out io.Writer, httpStatus int, logger *slog.Logger) *sim {
	return &sim{
		out:      out,
		logger:   logger,
		echo:     true,
		status:   httpStatus,
		messages: map[int]byte{},
	}
}

func (s *sim) write(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *sim) final(ok bool) {
	if ok {
		s.write("\r\n%s\r\n", at.OK)
		return
	}
	s.write("\r\n%s\r\n", at.ERROR)
}

// Feed consumes bytes from the controller.
func (s *sim) Feed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.echo && s.mode != modeHTTPData {
		s.out.Write(data)
	}
	for _, b := range data {
		switch s.mode {
		case modeSMSBody:
			if b == at.CtrlZ[0] {
				s.sent = append(s.sent, Sent{Kind: "sms", To: s.smsTo, Body: string(s.pending)})
				s.logger.Info("sms sent", "to", s.smsTo, "body", string(s.pending))
				s.pending = s.pending[:0]
				s.mode = modeCommand
				s.write("\r\n+CMGS: %d\r\n", len(s.sent))
				s.final(true)
				continue
			}
			s.pending = append(s.pending, b)
		case modeHTTPData:
			s.pending = append(s.pending, b)
			if len(s.pending) == s.want {
				s.mode = modeCommand
				s.final(true)
			}
		default:
			if b == '\r' || b == '\n' {
				if len(bytes.TrimSpace(s.line)) > 0 {
					s.command(string(bytes.TrimSpace(s.line)))
				}
				s.line = s.line[:0]
				continue
			}
			s.line = append(s.line, b)
		}
	}
}

func (s *sim) command(cmd string) {
	s.logger.Debug("command", "line", cmd)
	switch {
	case cmd == at.CmdAt:
		s.final(true)
	case cmd == at.CmdEchoOff:
		s.echo = false
		s.final(true)
	case cmd == "ATE1":
		s.echo = true
		s.final(true)
	case cmd == at.CmdSetTextMode, cmd == at.CmdFullHeaders:
		s.final(true)
	case strings.HasPrefix(cmd, "AT+CMGDA="):
		clear(s.messages)
		s.final(true)
	case strings.HasPrefix(cmd, at.CmdReadPrefix):
		s.read(strings.TrimPrefix(cmd, at.CmdReadPrefix))
	case strings.HasPrefix(cmd, at.CmdSendPrefix):
		s.smsTo = strings.Trim(strings.TrimPrefix(cmd, at.CmdSendPrefix), `"`)
		s.mode = modeSMSBody
		s.write("\r\n%s", at.Prompt)
	case strings.HasPrefix(cmd, "AT+SAPBR="):
		s.final(true)
	case cmd == at.CmdHTTPInit, cmd == at.CmdHTTPTerm:
		s.final(true)
	case strings.HasPrefix(cmd, `AT+HTTPPARA="URL",`):
		s.url = strings.Trim(strings.TrimPrefix(cmd, `AT+HTTPPARA="URL",`), `"`)
		s.final(true)
	case strings.HasPrefix(cmd, "AT+HTTPPARA="):
		s.final(true)
	case strings.HasPrefix(cmd, "AT+HTTPDATA="):
		n, _, _ := strings.Cut(strings.TrimPrefix(cmd, "AT+HTTPDATA="), ",")
		size, err := strconv.Atoi(n)
		if err != nil || size <= 0 {
			s.final(false)
			return
		}
		s.want = size
		s.pending = s.pending[:0]
		s.mode = modeHTTPData
		s.write("\r\nDOWNLOAD\r\n")
	case cmd == at.CmdHTTPPost:
		s.sent = append(s.sent, Sent{Kind: "http", To: s.url, Body: string(s.pending)})
		s.logger.Info("http post", "url", s.url, "body", string(s.pending))
		s.pending = s.pending[:0]
		s.final(true)
		s.write("\r\n%s %d,%d,0\r\n", at.UrcHTTPAction, 1, s.status)
	default:
		s.final(false)
	}
}

// read answers AT+CMGR=n with full text-mode headers. The last header
// field is the body length, so the body starts four bytes after the last
// comma.
func (s *sim) read(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		s.final(false)
		return
	}
	tok, ok := s.messages[n]
	if !ok {
		s.final(true)
		return
	}
	s.write("\r\n+CMGR: \"REC UNREAD\",\"+15550100\",\"\",\"26/10/17,12:00:00+00\",145,4,0,0,\"+15550000\",145,1\r\n")
	s.out.Write([]byte{tok, '\r', '\n'})
	s.final(true)
}

// Inject stores a message carrying tok in register and raises +CMTI.
func (s *sim) Inject(register int, tok byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[register] = tok
	s.write("\r\n%s \"SM\",%d\r\n", at.UrcNewMsg, register)
	s.logger.Info("message injected", "register", register, "token", string(rune(tok)))
}

// Sent returns everything the controller sent out so far.
func (s *sim) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}
