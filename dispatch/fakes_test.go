package dispatch_test

import (
	"context"
	"sync"

	"i4.energy/across/polectl/at"
	"i4.energy/across/polectl/rxbuf"
)

type push struct {
	Endpoint, Payload string
}

type fakeReporter struct {
	mu       sync.Mutex
	pushes   []push
	distress int
	err      error
}

func (r *fakeReporter) Push(_ context.Context, endpoint, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push{endpoint, payload})
	return r.err
}

func (r *fakeReporter) Distress(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.distress++
	return r.err
}

func (r *fakeReporter) Pushes() []push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push(nil), r.pushes...)
}

func (r *fakeReporter) Distresses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.distress
}

type readResult struct {
	tok byte
	err error
}

// fakeModem answers reads from a queue. When the queue is empty a read
// fails as if the register held nothing readable.
type fakeModem struct {
	mu        sync.Mutex
	buf       *rxbuf.Buffer
	reads     []readResult
	registers []int
	deletes   int
	inFlight  bool
	notes     []at.NewMessage

	// lateOnPowerCheck lands in the buffer while the next power check runs.
	lateOnPowerCheck string

	bringUps    int
	bringUpErrs []error
	powerChecks int
	power       []bool
}

func newFakeModem() *fakeModem {
	return &fakeModem{buf: rxbuf.New(0)}
}

func (m *fakeModem) queue(tok byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, readResult{tok, err})
}

func (m *fakeModem) ReadLatestMessage(_ context.Context, register int) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers = append(m.registers, register)
	if len(m.reads) == 0 {
		return 0, errNothingQueued
	}
	r := m.reads[0]
	m.reads = m.reads[1:]
	return r.tok, r.err
}

func (m *fakeModem) DeleteAllMessages(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.notes = nil
	return nil
}

func (m *fakeModem) TakeNotifications() []at.NewMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.notes
	m.notes = nil
	return msgs
}

// discard clears the buffer the way the session does, setting
// notifications aside.
func (m *fakeModem) discard() {
	msgs, n := at.SplitNotifications(m.buf.Bytes())
	m.buf.Discard(n)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, msgs...)
}

func (m *fakeModem) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *fakeModem) Buffer() *rxbuf.Buffer { return m.buf }

func (m *fakeModem) BringUp(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bringUps++
	if len(m.bringUpErrs) > 0 {
		err := m.bringUpErrs[0]
		m.bringUpErrs = m.bringUpErrs[1:]
		return err
	}
	return nil
}

func (m *fakeModem) CheckPower(context.Context) (bool, error) {
	m.mu.Lock()
	m.powerChecks++
	late := m.lateOnPowerCheck
	m.lateOnPowerCheck = ""
	on := true
	if len(m.power) > 0 {
		on = m.power[0]
		m.power = m.power[1:]
	}
	m.mu.Unlock()

	if late != "" {
		m.buf.Write([]byte(late))
	}
	m.discard()
	return on, nil
}

func (m *fakeModem) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

func (m *fakeModem) Registers() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.registers...)
}

func (m *fakeModem) BringUps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bringUps
}
