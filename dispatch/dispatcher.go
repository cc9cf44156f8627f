// Package dispatch turns inbound control tokens into pole operations and
// reports the results. It owns the notification detection, the fault
// latches and the main control loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"i4.energy/across/polectl/at"
	"i4.energy/across/polectl/modem"
	"i4.energy/across/polectl/pole"
	"i4.energy/across/polectl/rxbuf"
)

// Modem is the part of a modem session the dispatcher drives.
type Modem interface {
	ReadLatestMessage(ctx context.Context, register int) (byte, error)
	DeleteAllMessages(ctx context.Context) error
	// TakeNotifications hands over the notifications the modem set aside
	// while clearing the buffer for its own transactions.
	TakeNotifications() []at.NewMessage
	InFlight() bool
	Buffer() *rxbuf.Buffer
}

// Phase is the dispatcher state.
type Phase int32

const (
	Idle Phase = iota
	NotificationPending
	Processing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case NotificationPending:
		return "notification-pending"
	case Processing:
		return "processing"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Framing selects how an inbound message notification is recognised in
// the receive buffer.
type Framing string

const (
	// FramingURC waits for a complete +CMTI line and reads the register it
	// names.
	FramingURC Framing = "urc"
	// FramingWindow treats a buffer whose length sits strictly between
	// Window.Lo and Window.Hi, unchanged for Window.Settle, as a
	// notification.
	FramingWindow Framing = "window"
)

// Window parameterises FramingWindow.
type Window struct {
	Lo     int           `yaml:"lo"`
	Hi     int           `yaml:"hi"`
	Settle time.Duration `yaml:"settle"`
}

func DefaultWindow() Window {
	return Window{Lo: 14, Hi: 20, Settle: 100 * time.Millisecond}
}

// Options configures a Dispatcher. Zero values select defaults.
type Options struct {
	Table     Table
	Endpoints Endpoints
	Framing   Framing
	Window    Window
	Logger    *slog.Logger
	Now       func() time.Time
}

// Dispatcher is the command state machine. Poll and CheckFaults must be
// called from a single goroutine; the accessors are safe from any.
type Dispatcher struct {
	modem     Modem
	bank      pole.Bank
	reporter  Reporter
	table     Table
	endpoints Endpoints
	framing   Framing
	window    Window
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	phase    Phase
	poles    map[pole.ID]*pole.State
	resetReq map[pole.ID]bool

	// control goroutine only
	pending    []at.NewMessage
	lastLen    int
	lastChange time.Time
}

func New(m Modem, bank pole.Bank, r Reporter, opts Options) *Dispatcher {
	if opts.Table.actions == nil {
		opts.Table = DefaultTable()
	}
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.Framing == "" {
		opts.Framing = FramingURC
	}
	if opts.Window == (Window{}) {
		opts.Window = DefaultWindow()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Dispatcher{
		modem:     m,
		bank:      bank,
		reporter:  r,
		table:     opts.Table,
		endpoints: opts.Endpoints,
		framing:   opts.Framing,
		window:    opts.Window,
		logger:    opts.Logger,
		now:       opts.Now,
		poles:     map[pole.ID]*pole.State{},
		resetReq:  map[pole.ID]bool{},
	}
	for _, id := range pole.All {
		d.poles[id] = &pole.State{ID: id, SenseEnabled: true}
	}
	return d
}

// Phase returns the current dispatcher state.
func (d *Dispatcher) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Dispatcher) setPhase(p Phase) {
	d.mu.Lock()
	prev := d.phase
	d.phase = p
	d.mu.Unlock()
	if prev != p {
		d.logger.Debug("dispatcher phase", "from", prev.String(), "to", p.String())
	}
}

// Snapshot returns a copy of both pole states in pole order.
func (d *Dispatcher) Snapshot() []pole.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]pole.State, 0, len(pole.All))
	for _, id := range pole.All {
		out = append(out, *d.poles[id])
	}
	return out
}

// RequestReset asks the control goroutine to clear the fault latch of the
// given poles at its next fault check.
func (d *Dispatcher) RequestReset(ids ...pole.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if id.Valid() {
			d.resetReq[id] = true
		}
	}
}

func (d *Dispatcher) takeResetRequests() []pole.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []pole.ID
	for _, id := range pole.All {
		if d.resetReq[id] {
			ids = append(ids, id)
			delete(d.resetReq, id)
		}
	}
	return ids
}

func (d *Dispatcher) update(id pole.ID, fn func(s *pole.State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.poles[id])
}

// Poll runs one detection step and, when a notification is complete, the
// whole processing cycle. Notifications that arrived during an earlier
// cycle are served first, one per call. It never leaves the dispatcher
// outside Idle after processing. Only a cancelled ctx is returned as an
// error.
func (d *Dispatcher) Poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.modem.InFlight() {
		return nil
	}
	buf := d.modem.Buffer()
	d.pending = append(d.pending, d.modem.TakeNotifications()...)
	if d.serveQueued(ctx) {
		return nil
	}
	if d.framing == FramingWindow {
		d.pollWindow(ctx, buf)
	} else {
		d.pollURC(ctx, buf)
	}
	return nil
}

func (d *Dispatcher) pollURC(ctx context.Context, buf *rxbuf.Buffer) {
	if buf.Len() == 0 {
		return
	}
	// Everything but a partial notification goes: leftovers of an earlier
	// transaction and unrelated URCs.
	tail := d.collect(buf)
	switch {
	case d.serveQueued(ctx):
	case tail == 0:
		d.setPhase(Idle)
	case tail >= buf.Cap():
		d.logger.Warn("receive buffer full without a notification, discarding")
		buf.Discard(tail)
		d.setPhase(Idle)
	default:
		d.setPhase(NotificationPending)
	}
}

// serveQueued processes the oldest queued notification, if any.
func (d *Dispatcher) serveQueued(ctx context.Context) bool {
	if len(d.pending) == 0 {
		return false
	}
	msg := d.pending[0]
	d.pending = d.pending[1:]
	d.setPhase(NotificationPending)
	d.logger.Info("message notification", "storage", msg.Storage, "index", msg.Index, "queued", len(d.pending))
	register := msg.Index
	if d.framing == FramingWindow {
		// The window framing always reads the configured register.
		register = 0
	}
	d.process(ctx, register)
	return true
}

// collect moves every complete notification in the buffer into the
// pending queue and drops the bytes around them. It returns the length of
// the partial notification left in the buffer.
func (d *Dispatcher) collect(buf *rxbuf.Buffer) int {
	data := buf.Bytes()
	msgs, n := at.SplitNotifications(data)
	if n > 0 && d.logger.Enabled(context.Background(), slog.LevelDebug) {
		d.logger.Debug("discarding receive buffer", "lines", at.Lines(data[:n], false))
	}
	buf.Discard(n)
	d.pending = append(d.pending, msgs...)
	return len(data) - n
}

func (d *Dispatcher) pollWindow(ctx context.Context, buf *rxbuf.Buffer) {
	n := buf.Len()
	now := d.now()
	if n != d.lastLen {
		d.lastLen = n
		d.lastChange = now
	}
	switch {
	case n > d.window.Lo && n < d.window.Hi:
		d.setPhase(NotificationPending)
		if now.Sub(d.lastChange) < d.window.Settle {
			return
		}
		buf.Discard(n)
		d.process(ctx, 0)
	case n >= d.window.Hi:
		d.collect(buf)
		d.lastLen = buf.Len()
		d.setPhase(Idle)
	}
}

// process reads the pending message, clears the storage and runs the
// mapped action or the distress path. The buffer is cleared and the
// dispatcher returns to Idle whatever happens; a notification that arrived
// meanwhile is queued for the next Poll.
func (d *Dispatcher) process(ctx context.Context, register int) {
	d.setPhase(Processing)
	defer func() {
		d.pending = append(d.pending, d.modem.TakeNotifications()...)
		d.collect(d.modem.Buffer())
		d.lastLen = d.modem.Buffer().Len()
		d.setPhase(Idle)
	}()

	tok, err := d.modem.ReadLatestMessage(ctx, register)
	if err != nil {
		if errors.Is(err, modem.ErrTokenNotFound) {
			d.logger.Info("no actionable token this cycle", "error", err)
		} else {
			d.logger.Warn("read message failed", "error", err)
		}
		d.deleteAll(ctx)
		return
	}

	action, ok := d.table.Lookup(tok)
	d.deleteAll(ctx)
	if !ok {
		d.logger.Warn("unknown control token", "token", fmt.Sprintf("0x%02x", tok))
		if err := d.reporter.Distress(ctx); err != nil {
			d.logger.Warn("distress failed", "error", err)
		}
		return
	}
	d.logger.Info("control token", "token", string(rune(tok)), "action", action.String())
	d.execute(ctx, action)
}

// deleteAll clears the storage. Queued notifications name messages that
// are gone afterwards, so they are dropped too.
func (d *Dispatcher) deleteAll(ctx context.Context) {
	if err := d.modem.DeleteAllMessages(ctx); err != nil {
		d.logger.Warn("delete messages failed", "error", err)
		return
	}
	if len(d.pending) > 0 {
		d.logger.Debug("dropping notifications for deleted messages", "count", len(d.pending))
		d.pending = nil
	}
}

// hasPending reports whether a notification waits for processing.
func (d *Dispatcher) hasPending() bool { return len(d.pending) > 0 }

func (d *Dispatcher) execute(ctx context.Context, a Action) {
	switch a {
	case Light1On:
		d.light(ctx, pole.One, true)
	case Light1Off:
		d.light(ctx, pole.One, false)
	case Light2On:
		d.light(ctx, pole.Two, true)
	case Light2Off:
		d.light(ctx, pole.Two, false)
	case AllOn:
		d.light(ctx, pole.One, true)
		d.light(ctx, pole.Two, true)
	case AllOff:
		d.light(ctx, pole.One, false)
		d.light(ctx, pole.Two, false)
	case Light1OnLight2Off:
		d.light(ctx, pole.One, true)
		d.light(ctx, pole.Two, false)
	case Light1OffLight2On:
		d.light(ctx, pole.One, false)
		d.light(ctx, pole.Two, true)
	case Resistance1:
		d.Sample(ctx, pole.One)
	case Resistance2:
		d.Sample(ctx, pole.Two)
	case ResistanceBoth:
		d.Sample(ctx, pole.One)
		d.Sample(ctx, pole.Two)
	case ResetFaults:
		d.resetFaults(ctx, pole.All[:]...)
	}
}

func (d *Dispatcher) light(ctx context.Context, id pole.ID, on bool) {
	if err := d.bank.SetLight(ctx, id, on); err != nil {
		d.logger.Error("set light failed", "pole", id.String(), "on", on, "error", err)
		return
	}
	d.update(id, func(s *pole.State) { s.LightOn = on })
	payload := PayloadFalse
	if on {
		payload = PayloadTrue
	}
	d.push(ctx, d.endpoints.For(id).Status, payload)
}

// Sample reads the resistance proxy of a pole and pushes it, encoded, to
// the pole's data endpoint.
func (d *Dispatcher) Sample(ctx context.Context, id pole.ID) error {
	if err := d.bank.SelectChannel(ctx, id); err != nil {
		d.logger.Error("select channel failed", "pole", id.String(), "error", err)
		return err
	}
	v, err := d.bank.Read(ctx)
	if err != nil {
		d.logger.Error("sample failed", "pole", id.String(), "error", err)
		return err
	}
	d.update(id, func(s *pole.State) { s.Sample = v })
	return d.push(ctx, d.endpoints.For(id).Data, pole.EncodeSample(v))
}

// PushInit announces a pole on its init endpoint.
func (d *Dispatcher) PushInit(ctx context.Context, id pole.ID) error {
	return d.push(ctx, d.endpoints.For(id).Init, PayloadTrue)
}

func (d *Dispatcher) push(ctx context.Context, endpoint, payload string) error {
	if err := d.reporter.Push(ctx, endpoint, payload); err != nil {
		d.logger.Warn("push failed", "endpoint", endpoint, "error", err)
		return err
	}
	d.logger.Debug("pushed", "endpoint", endpoint, "payload", payload)
	return nil
}
