package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"i4.energy/across/polectl/dispatch"
	"i4.energy/across/polectl/modem"
	"i4.energy/across/polectl/pole"
	"i4.energy/across/polectl/pole/simio"
)

var errNothingQueued = errors.New("nothing queued")

const notification = "\r\n+CMTI: \"SM\",1\r\n"

type harness struct {
	d        *dispatch.Dispatcher
	modem    *fakeModem
	bank     *simio.Bank
	reporter *fakeReporter
}

func newHarness(t *testing.T, opts dispatch.Options) *harness {
	t.Helper()
	h := &harness{modem: newFakeModem(), bank: simio.New(), reporter: &fakeReporter{}}
	h.d = dispatch.New(h.modem, h.bank, h.reporter, opts)
	return h
}

// deliver simulates a message carrying tok: the notification lands in the
// buffer and the read returns tok.
func (h *harness) deliver(t *testing.T, tok byte) {
	t.Helper()
	h.modem.queue(tok, nil)
	h.modem.buf.Write([]byte(notification))
	if err := h.d.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func (h *harness) assertIdle(t *testing.T) {
	t.Helper()
	if p := h.d.Phase(); p != dispatch.Idle {
		t.Errorf("expected idle, got %v", p)
	}
	if n := h.modem.buf.Len(); n != 0 {
		t.Errorf("expected empty buffer, got %d bytes", n)
	}
}

func op(name string, id pole.ID, v bool) simio.Op { return simio.Op{Name: name, Pole: id, Value: v} }

func TestValidTokens(t *testing.T) {
	const s1, s2 = 0x6A, 0x81
	tests := []struct {
		tok    byte
		action dispatch.Action
		ops    []simio.Op
		pushes []push
	}{
		{'A', dispatch.Light1On, []simio.Op{op("light", pole.One, true)}, []push{{"/pole1/status", "true"}}},
		{'B', dispatch.Light1Off, []simio.Op{op("light", pole.One, false)}, []push{{"/pole1/status", "false"}}},
		{'C', dispatch.Light2On, []simio.Op{op("light", pole.Two, true)}, []push{{"/pole2/status", "true"}}},
		{'D', dispatch.Light2Off, []simio.Op{op("light", pole.Two, false)}, []push{{"/pole2/status", "false"}}},
		{'E', dispatch.AllOn,
			[]simio.Op{op("light", pole.One, true), op("light", pole.Two, true)},
			[]push{{"/pole1/status", "true"}, {"/pole2/status", "true"}}},
		{'F', dispatch.AllOff,
			[]simio.Op{op("light", pole.One, false), op("light", pole.Two, false)},
			[]push{{"/pole1/status", "false"}, {"/pole2/status", "false"}}},
		{'G', dispatch.Resistance1,
			[]simio.Op{op("select", pole.One, false), op("read", pole.One, false)},
			[]push{{"/pole1/data", "01101010"}}},
		{'H', dispatch.Resistance2,
			[]simio.Op{op("select", pole.Two, false), op("read", pole.Two, false)},
			[]push{{"/pole2/data", "10000001"}}},
		{'I', dispatch.ResistanceBoth,
			[]simio.Op{
				op("select", pole.One, false), op("read", pole.One, false),
				op("select", pole.Two, false), op("read", pole.Two, false),
			},
			[]push{{"/pole1/data", "01101010"}, {"/pole2/data", "10000001"}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%c %v", tt.tok, tt.action), func(t *testing.T) {
			h := newHarness(t, dispatch.Options{})
			h.bank.SetSample(pole.One, s1)
			h.bank.SetSample(pole.Two, s2)

			if a, ok := dispatch.DefaultTable().Lookup(tt.tok); !ok || a != tt.action {
				t.Fatalf("token %q maps to %v (%v)", tt.tok, a, ok)
			}

			h.deliver(t, tt.tok)

			if got := h.bank.Ops(); !slices.Equal(got, tt.ops) {
				t.Errorf("ops: expected %v, got %v", tt.ops, got)
			}
			if got := h.reporter.Pushes(); !slices.Equal(got, tt.pushes) {
				t.Errorf("pushes: expected %v, got %v", tt.pushes, got)
			}
			if h.reporter.Distresses() != 0 {
				t.Error("valid token must not send distress")
			}
			if h.modem.Deletes() != 1 {
				t.Errorf("expected one delete, got %d", h.modem.Deletes())
			}
			h.assertIdle(t)
		})
	}
}

func TestLight1OnUpdatesState(t *testing.T) {
	h := newHarness(t, dispatch.Options{})
	h.deliver(t, 'A')

	if !h.bank.Light(pole.One) || h.bank.Light(pole.Two) {
		t.Error("only light 1 must be on")
	}
	snap := h.d.Snapshot()
	if !snap[0].LightOn || snap[1].LightOn {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestUnknownTokens(t *testing.T) {
	for _, tok := range []byte{0x00, '@', 'J', 'z', 0xFF} {
		t.Run(fmt.Sprintf("0x%02x", tok), func(t *testing.T) {
			h := newHarness(t, dispatch.Options{})
			h.deliver(t, tok)

			if ops := h.bank.Ops(); len(ops) != 0 {
				t.Errorf("expected no actuator or sensor call, got %v", ops)
			}
			if h.reporter.Distresses() != 1 {
				t.Errorf("expected one distress, got %d", h.reporter.Distresses())
			}
			if len(h.reporter.Pushes()) != 0 {
				t.Errorf("unexpected pushes %v", h.reporter.Pushes())
			}
			if h.modem.Deletes() != 1 {
				t.Errorf("expected one delete, got %d", h.modem.Deletes())
			}
			h.assertIdle(t)
		})
	}
}

func TestUnmappedTokenInsideRange(t *testing.T) {
	table, err := dispatch.NewTable(map[byte]dispatch.Action{'A': dispatch.Light1On, 'C': dispatch.Light2On}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, dispatch.Options{Table: table})
	h.deliver(t, 'B')

	if h.reporter.Distresses() != 1 {
		t.Error("a gap in the range is unknown and must send distress")
	}
	h.assertIdle(t)
}

func TestNoTokenReturnsToIdle(t *testing.T) {
	h := newHarness(t, dispatch.Options{})
	h.modem.queue(0, fmt.Errorf("register 1: %w", modem.ErrTokenNotFound))
	h.modem.buf.Write([]byte(notification))
	h.d.Poll(context.Background())

	if len(h.bank.Ops()) != 0 || len(h.reporter.Pushes()) != 0 || h.reporter.Distresses() != 0 {
		t.Error("a missing token must not trigger any action")
	}
	if h.modem.Deletes() != 1 {
		t.Errorf("expected one delete, got %d", h.modem.Deletes())
	}
	h.assertIdle(t)
}

func TestReportFailureStillIdle(t *testing.T) {
	h := newHarness(t, dispatch.Options{})
	h.reporter.err = modem.ErrSessionNotReady
	h.deliver(t, 'A')
	if !h.bank.Light(pole.One) {
		t.Error("actuation must not depend on the report")
	}
	h.assertIdle(t)
}

// lateReporter lands a second notification while the first push is on
// the wire and queues the token that message carries.
type lateReporter struct {
	fakeReporter
	modem *fakeModem
	next  byte
	clear bool // the push clears the buffer afterwards, like SendSMS
	sent  bool
}

func (r *lateReporter) Push(ctx context.Context, endpoint, payload string) error {
	if !r.sent {
		r.sent = true
		r.modem.queue(r.next, nil)
		r.modem.buf.Write([]byte(notification))
		if r.clear {
			r.modem.discard()
		}
	}
	return r.fakeReporter.Push(ctx, endpoint, payload)
}

func TestNotificationDuringPushIsQueued(t *testing.T) {
	tests := []struct {
		name  string
		clear bool
	}{
		{"left in the buffer", false},
		{"set aside by the modem", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, dispatch.Options{})
			r := &lateReporter{modem: h.modem, next: 'C', clear: tt.clear}
			h.d = dispatch.New(h.modem, h.bank, r, dispatch.Options{})

			h.deliver(t, 'A')
			h.assertIdle(t)
			if got := h.modem.Registers(); !slices.Equal(got, []int{1}) {
				t.Fatalf("expected one read so far, got %v", got)
			}

			if err := h.d.Poll(context.Background()); err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if got := h.modem.Registers(); !slices.Equal(got, []int{1, 1}) {
				t.Errorf("expected the queued message to be read, got %v", got)
			}
			if !h.bank.Light(pole.One) || !h.bank.Light(pole.Two) {
				t.Error("both commands must have been executed")
			}
			want := []push{{"/pole1/status", "true"}, {"/pole2/status", "true"}}
			if got := r.Pushes(); !slices.Equal(got, want) {
				t.Errorf("expected %v, got %v", want, got)
			}
			if h.modem.Deletes() != 2 {
				t.Errorf("expected two deletes, got %d", h.modem.Deletes())
			}
			h.assertIdle(t)
		})
	}
}

func TestNotificationsBeforeDeleteAreDropped(t *testing.T) {
	h := newHarness(t, dispatch.Options{})
	h.modem.queue('A', nil)
	h.modem.buf.Write([]byte("\r\n+CMTI: \"SM\",1\r\n\r\n+CMTI: \"SM\",2\r\n"))

	ctx := context.Background()
	h.d.Poll(ctx)
	h.d.Poll(ctx)

	if got := h.modem.Registers(); !slices.Equal(got, []int{1}) {
		t.Errorf("the second message was deleted with the first, got reads %v", got)
	}
	h.assertIdle(t)
}

func TestURCFraming(t *testing.T) {
	ctx := context.Background()

	t.Run("partial line waits", func(t *testing.T) {
		h := newHarness(t, dispatch.Options{})
		h.modem.buf.Write([]byte("\r\n+CMTI: \"SM\","))
		h.d.Poll(ctx)
		if len(h.modem.Registers()) != 0 {
			t.Error("must not read before the notification is complete")
		}
		if h.d.Phase() != dispatch.NotificationPending {
			t.Errorf("expected pending, got %v", h.d.Phase())
		}

		h.modem.queue('A', nil)
		h.modem.buf.Write([]byte("4\r\n"))
		h.d.Poll(ctx)
		if got := h.modem.Registers(); !slices.Equal(got, []int{4}) {
			t.Errorf("expected read of register 4, got %v", got)
		}
		h.assertIdle(t)
	})

	t.Run("unrelated lines are discarded", func(t *testing.T) {
		h := newHarness(t, dispatch.Options{})
		h.modem.buf.Write([]byte("\r\n+HTTPACTION: 1,200,0\r\n"))
		h.d.Poll(ctx)
		if len(h.modem.Registers()) != 0 {
			t.Error("no read expected")
		}
		h.assertIdle(t)
	})

	t.Run("in-flight transaction defers detection", func(t *testing.T) {
		h := newHarness(t, dispatch.Options{})
		h.modem.inFlight = true
		h.modem.buf.Write([]byte(notification))
		h.d.Poll(ctx)
		if len(h.modem.Registers()) != 0 {
			t.Error("must not read while a transaction is outstanding")
		}
		if h.modem.buf.Len() == 0 {
			t.Error("must not reset the buffer while a transaction is outstanding")
		}
	})
}

func TestWindowFraming(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	h := newHarness(t, dispatch.Options{Framing: dispatch.FramingWindow, Now: clock})

	h.modem.buf.Write([]byte("\r\n+CMTI: \"SM\",")) // 14 bytes: not yet inside (14, 20)
	h.d.Poll(ctx)
	if h.d.Phase() != dispatch.Idle {
		t.Errorf("expected idle at the lower bound, got %v", h.d.Phase())
	}

	h.modem.queue('C', nil)
	h.modem.buf.Write([]byte("1\r\n")) // 17 bytes
	h.d.Poll(ctx)
	if len(h.modem.Registers()) != 0 {
		t.Fatal("must wait for the buffer to settle")
	}
	if h.d.Phase() != dispatch.NotificationPending {
		t.Errorf("expected pending, got %v", h.d.Phase())
	}

	now = now.Add(dispatch.DefaultWindow().Settle)
	h.d.Poll(ctx)
	if got := h.modem.Registers(); !slices.Equal(got, []int{0}) {
		t.Errorf("expected read of the default register, got %v", got)
	}
	if !h.bank.Light(pole.Two) {
		t.Error("light 2 must be on")
	}
	h.assertIdle(t)

	h.modem.buf.Write([]byte("\r\n+CSQ: 17,0\r\n\r\nOK\r\n"))
	h.d.Poll(ctx)
	if len(h.modem.Registers()) != 1 {
		t.Error("an overlong buffer is not a notification")
	}
	h.assertIdle(t)
}

func TestPollCancelled(t *testing.T) {
	h := newHarness(t, dispatch.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.d.Poll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
