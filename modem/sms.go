package modem

import (
	"context"
	"fmt"
	"strconv"

	"i4.energy/across/polectl/at"
)

const (
	// DefaultSMSNumber is the recipient of outbound messages.
	DefaultSMSNumber = "15412559226"
	// DefaultRegister is the storage register read for inbound commands.
	DefaultRegister = 1
)

// ReadLatestMessage reads a stored message and returns its control byte.
// register <= 0 selects the configured register. The buffer is cleared
// before the read and only the bytes received after the command are
// examined.
//
// ErrTokenNotFound is returned when the response holds no delimiter or is
// too short to carry a byte at the control offset.
func (s *Session) ReadLatestMessage(ctx context.Context, register int) (byte, error) {
	if register <= 0 {
		register = s.config.register
	}
	if err := s.beginIdle(ctx); err != nil {
		return 0, err
	}
	defer s.endIdle()

	s.discard()
	mark := s.buf.Len()
	if err := s.run("read-message", []Step{
		{Name: "cmgr", Payload: at.CmdReadPrefix + strconv.Itoa(register), Delay: s.config.timing.ReadSettle, Expect: at.OK, Retries: s.retries()},
	}); err != nil {
		return 0, err
	}
	b, ok := at.ControlByte(s.buf.Bytes()[mark:])
	if !ok {
		return 0, fmt.Errorf("register %d: %w", register, ErrTokenNotFound)
	}
	return b, nil
}

// SendSMS sends body as a text message to the configured number and
// clears the receive buffer afterwards, keeping any message notification
// that arrived meanwhile.
func (s *Session) SendSMS(ctx context.Context, body string) error {
	if err := s.beginIdle(ctx); err != nil {
		return err
	}
	defer s.endIdle()

	t := s.config.timing
	err := s.run("send-sms", []Step{
		{Name: "cmgs", Payload: fmt.Sprintf(`%s"%s"`, at.CmdSendPrefix, s.config.smsNumber), Delay: t.SMSStep, Expect: ">", Retries: s.retries()},
		{Name: "body", Payload: body, Raw: true, Delay: t.SMSStep},
		{Name: "ctrl-z", Payload: at.CtrlZ, Raw: true, Delay: t.SMSSettle, Expect: "+CMGS", Retries: s.retries()},
	})
	s.discard()
	return err
}
