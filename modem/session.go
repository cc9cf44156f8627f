package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/polectl/at"
	"i4.energy/across/polectl/rxbuf"
)

// State is the modem session state as tracked by the Session.
type State int32

const (
	Off State = iota
	On
	EchoSuppressed
	TextMode
	Idle
	TransactionInFlight
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	case EchoSuppressed:
		return "echo-suppressed"
	case TextMode:
		return "text-mode"
	case Idle:
		return "idle"
	case TransactionInFlight:
		return "in-flight"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Step is one write of a protocol sequence followed by a settle delay.
type Step struct {
	Name    string
	Payload string
	// Raw suppresses the CR terminator.
	Raw   bool
	Delay time.Duration
	// Expect is looked for in the receive buffer after Delay when
	// verification is enabled. Empty means the step is never verified.
	Expect  string
	Retries int
}

func (st Step) wire() []byte {
	if st.Raw {
		return []byte(st.Payload)
	}
	return []byte(st.Payload + at.CR)
}

// Session drives the modem through fixed AT command sequences. A Session
// owns the receive buffer: Loop is its only producer and the operations
// below are its only consumer.
//
// Operations are transactions. They are serialized, and once started a
// transaction runs every step to completion. The context is only consulted
// before a transaction begins.
type Session struct {
	config    Config
	transport Transport
	buf       *rxbuf.Buffer
	logger    *slog.Logger

	mu       sync.Mutex
	state    atomic.Int32
	inFlight atomic.Bool

	// notifications found in bytes a transaction discarded
	notesMu sync.Mutex
	notes   []at.NewMessage

	loopRunning atomic.Bool
	closed      atomic.Bool
}

// New dials the modem and returns a Session in state Off. Bring-up is a
// separate step, see BringUp.
func New(ctx context.Context, config Config) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Session{
		config:    config,
		transport: transport,
		buf:       rxbuf.New(config.bufferSize),
		logger:    config.logger,
	}, nil
}

// Loop copies everything the modem sends into the receive buffer. It is
// the only goroutine reading the transport and must run for the lifetime of
// the Session. Loop returns when ctx is cancelled or the transport fails.
func (s *Session) Loop(ctx context.Context) error {
	if s.transport == nil {
		return ErrNotInitialized
	}
	if !s.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer s.loopRunning.Store(false)

	errc := make(chan error, 1)
	go func() {
		p := make([]byte, 64)
		var dropped uint64
		for {
			n, err := s.transport.Read(p)
			if n > 0 {
				s.buf.Write(p[:n])
				if d := s.buf.Dropped(); d != dropped {
					s.logger.Warn("receive buffer overflow", "dropped", d-dropped)
					dropped = d
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, io.EOF) || s.closed.Load() {
			return io.EOF
		}
		return fmt.Errorf("read modem: %w", err)
	}
}

// Close releases the transport. A running Loop returns once the transport
// read fails.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if s.transport != nil {
		return s.transport.Close()
	}
	return nil
}

// State returns the current session state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("modem state", "from", prev.String(), "to", st.String())
	}
}

// InFlight reports whether a transaction is outstanding, including its
// trailing settle delay.
func (s *Session) InFlight() bool { return s.inFlight.Load() }

// Buffer exposes the receive buffer. Callers must not Reset or Discard it
// while InFlight reports true.
func (s *Session) Buffer() *rxbuf.Buffer { return s.buf }

// discard drops the buffered bytes ahead of a transaction. Message
// notifications among them are set aside for TakeNotifications, and a
// partial one is left in place to complete.
func (s *Session) discard() {
	msgs, n := at.SplitNotifications(s.buf.Bytes())
	s.buf.Discard(n)
	if len(msgs) == 0 {
		return
	}
	s.notesMu.Lock()
	s.notes = append(s.notes, msgs...)
	s.notesMu.Unlock()
	s.logger.Debug("message notification set aside", "count", len(msgs))
}

// TakeNotifications returns and forgets the message notifications that
// arrived while the session was clearing the receive buffer.
func (s *Session) TakeNotifications() []at.NewMessage {
	s.notesMu.Lock()
	defer s.notesMu.Unlock()
	msgs := s.notes
	s.notes = nil
	return msgs
}

func (s *Session) forgetNotifications() {
	s.notesMu.Lock()
	s.notes = nil
	s.notesMu.Unlock()
}

// begin starts a transaction. When allowed is non-empty the current state
// must be one of them.
func (s *Session) begin(ctx context.Context, allowed ...State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.transport == nil {
		return ErrNotInitialized
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if st := s.State(); len(allowed) > 0 && !slices.Contains(allowed, st) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSessionNotReady, st)
	}
	s.inFlight.Store(true)
	return nil
}

func (s *Session) end() {
	s.inFlight.Store(false)
	s.mu.Unlock()
}

// beginIdle starts a transaction that needs an idle session and marks the
// session busy until endIdle.
func (s *Session) beginIdle(ctx context.Context) error {
	if err := s.begin(ctx, Idle); err != nil {
		return err
	}
	s.setState(TransactionInFlight)
	return nil
}

func (s *Session) endIdle() {
	s.setState(Idle)
	s.end()
}

// run executes steps in order. Without verification a step never fails
// except on a transport write error.
func (s *Session) run(op string, steps []Step) error {
	for _, st := range steps {
		if err := s.step(op, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) step(op string, st Step) error {
	verify := s.config.verify && st.Expect != ""
	attempts := 1
	if verify {
		attempts += st.Retries
	}
	for i := 0; i < attempts; i++ {
		mark := s.buf.Len()
		if _, err := s.transport.Write(st.wire()); err != nil {
			return fmt.Errorf("%s: write %s: %w", op, st.Name, err)
		}
		s.config.sleep(st.Delay)
		s.logStep(op, st, i)
		if !verify {
			return nil
		}
		// Only bytes that arrived after the write count.
		if resp := s.buf.Bytes(); mark <= len(resp) && bytes.Contains(resp[mark:], []byte(st.Expect)) {
			return nil
		}
	}
	return fmt.Errorf("%s: %s: %w", op, st.Name, ErrVerifyFailed)
}

func (s *Session) logStep(op string, st Step, attempt int) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var resp []string
	for _, line := range at.Lines(s.buf.Bytes(), false) {
		resp = append(resp, at.Classify(line).String()+" "+line)
	}
	s.logger.Debug("modem step",
		"op", op,
		"step", st.Name,
		"attempt", attempt,
		"delay", st.Delay,
		"response", resp,
	)
}

// retries returns the per-step retry count used for verified steps.
func (s *Session) retries() int { return s.config.retries }
