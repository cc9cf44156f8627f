package modem

import (
	"context"
	"fmt"

	"i4.energy/across/polectl/at"
)

// PowerOn toggles the power key: low for the hold time, then high, then
// waits for the boot notifications to drain and discards them. Nothing is
// read back; the delays are the only synchronization.
func (s *Session) PowerOn(ctx context.Context) error {
	if s.config.powerKey == nil {
		return ErrNoPowerKey
	}
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.end()

	t := s.config.timing
	if err := s.config.powerKey.Drive(false); err != nil {
		return fmt.Errorf("power key low: %w", err)
	}
	s.config.sleep(t.PowerKeyHold)
	if err := s.config.powerKey.Drive(true); err != nil {
		return fmt.Errorf("power key high: %w", err)
	}
	for i := 0; i < t.PowerDrainRounds; i++ {
		s.config.sleep(t.PowerDrain)
	}
	s.logger.Debug("modem power toggled", "boot_bytes", s.buf.Len())
	s.discard()
	s.setState(On)
	return nil
}

// SuppressEcho sends ATE0, pausing briefly before the terminator.
func (s *Session) SuppressEcho(ctx context.Context) error {
	if err := s.begin(ctx, On, EchoSuppressed, TextMode, Idle); err != nil {
		return err
	}
	defer s.end()

	t := s.config.timing
	err := s.run("suppress-echo", []Step{
		{Name: "echo-off", Payload: at.CmdEchoOff, Raw: true, Delay: t.EchoPreCR},
		{Name: "terminator", Payload: at.CR, Raw: true, Delay: t.EchoSettle, Expect: at.OK, Retries: s.retries()},
	})
	s.discard()
	if err != nil {
		return err
	}
	s.setState(EchoSuppressed)
	return nil
}

// EnterTextMode selects text-mode SMS with full headers. Full headers are
// what puts the message body at a fixed distance from the last comma.
func (s *Session) EnterTextMode(ctx context.Context) error {
	if err := s.begin(ctx, EchoSuppressed, TextMode, Idle); err != nil {
		return err
	}
	defer s.end()

	t := s.config.timing
	if err := s.run("text-mode", []Step{
		{Name: "cmgf", Payload: at.CmdSetTextMode, Delay: t.TextMode, Expect: at.OK, Retries: s.retries()},
		{Name: "csdh", Payload: at.CmdFullHeaders, Delay: t.TextMode, Expect: at.OK, Retries: s.retries()},
	}); err != nil {
		return err
	}
	s.setState(TextMode)
	return nil
}

// CheckPower sends AT on a cleared buffer and reports whether the third
// byte received after it is the 'O' of "\r\nOK". A message notification in
// the answer also counts as alive. A negative answer moves the session to
// Off.
func (s *Session) CheckPower(ctx context.Context) (bool, error) {
	if err := s.begin(ctx); err != nil {
		return false, err
	}
	defer s.end()

	s.discard()
	mark := s.buf.Len()
	if err := s.run("check-power", []Step{
		{Name: "at", Payload: at.CmdAt, Delay: s.config.timing.PowerCheck},
	}); err != nil {
		return false, err
	}
	c, ok := s.buf.At(mark + 2)
	on := ok && c == 'O'
	if !on {
		_, found := at.FindNewMessage(s.buf.Bytes()[mark:])
		on = found
	}
	switch {
	case !on:
		s.setState(Off)
	case s.State() == Off:
		s.setState(On)
	}
	return on, nil
}

// DeleteAllMessages clears the message storage. It completes bring-up when
// called in TextMode. Notifications set aside earlier name deleted
// messages and are dropped.
func (s *Session) DeleteAllMessages(ctx context.Context) error {
	if err := s.begin(ctx, TextMode, Idle); err != nil {
		return err
	}
	defer s.end()

	s.forgetNotifications()
	s.setState(TransactionInFlight)
	defer s.setState(Idle)
	return s.run("delete-all", []Step{
		{Name: "cmgda", Payload: at.CmdDeleteAll, Delay: s.config.timing.DeleteAll, Expect: at.OK, Retries: s.retries()},
	})
}

// BringUp runs the start-up sequence: check power, power on if silent,
// suppress echo, enter text mode and clear the message storage.
func (s *Session) BringUp(ctx context.Context) error {
	on, err := s.CheckPower(ctx)
	if err != nil {
		return fmt.Errorf("check power: %w", err)
	}
	switch {
	case on:
	case s.config.powerKey == nil:
		// Echo may still be on and shift the OK; assume the modem is up.
		s.logger.Warn("modem power check negative and no power key configured")
		s.setState(On)
	default:
		s.logger.Info("modem silent, toggling power")
		if err := s.PowerOn(ctx); err != nil {
			return fmt.Errorf("power on: %w", err)
		}
	}
	if err := s.SuppressEcho(ctx); err != nil {
		return fmt.Errorf("suppress echo: %w", err)
	}
	if err := s.EnterTextMode(ctx); err != nil {
		return fmt.Errorf("text mode: %w", err)
	}
	if err := s.DeleteAllMessages(ctx); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	s.logger.Info("modem ready", "state", s.State().String())
	return nil
}
