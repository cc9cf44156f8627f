// Package simio is an in-memory pole backend for bench runs and tests.
package simio

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"i4.energy/across/polectl/pole"
)

// Op is one recorded backend call.
type Op struct {
	Name  string
	Pole  pole.ID
	Value bool
}

func (o Op) String() string {
	return fmt.Sprintf("%s(%d,%v)", o.Name, int(o.Pole), o.Value)
}

// Bank implements pole.Bank in memory and records every call.
type Bank struct {
	mu       sync.Mutex
	selected pole.ID
	samples  map[pole.ID]uint8
	lights   map[pole.ID]bool
	faults   map[pole.ID]bool
	sense    map[pole.ID]bool
	ops      []Op
}

var _ pole.Bank = (*Bank)(nil)

// New returns a bank with both lights off and sensing enabled.
func New() *Bank {
	return &Bank{
		selected: pole.One,
		samples:  map[pole.ID]uint8{},
		lights:   map[pole.ID]bool{},
		faults:   map[pole.ID]bool{},
		sense:    map[pole.ID]bool{pole.One: true, pole.Two: true},
	}
}

// maxOps bounds the call history when the bank backs a long-running
// bench unit.
const maxOps = 1024

func (b *Bank) record(op Op) {
	if len(b.ops) == maxOps {
		b.ops = slices.Delete(b.ops, 0, 1)
	}
	b.ops = append(b.ops, op)
}

func (b *Bank) SelectChannel(_ context.Context, id pole.ID) error {
	if !id.Valid() {
		return fmt.Errorf("simio: invalid %v", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = id
	b.record(Op{Name: "select", Pole: id})
	return nil
}

func (b *Bank) Read(_ context.Context) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Op{Name: "read", Pole: b.selected})
	return b.samples[b.selected], nil
}

func (b *Bank) SetLight(_ context.Context, id pole.ID, on bool) error {
	if !id.Valid() {
		return fmt.Errorf("simio: invalid %v", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lights[id] = on
	b.record(Op{Name: "light", Pole: id, Value: on})
	return nil
}

func (b *Bank) ReadFault(_ context.Context, id pole.ID) (bool, error) {
	if !id.Valid() {
		return false, fmt.Errorf("simio: invalid %v", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults[id], nil
}

func (b *Bank) SetSenseEnable(_ context.Context, id pole.ID, enabled bool) error {
	if !id.Valid() {
		return fmt.Errorf("simio: invalid %v", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sense[id] = enabled
	b.record(Op{Name: "sense", Pole: id, Value: enabled})
	return nil
}

// SetSample sets the value returned when id is selected and read.
func (b *Bank) SetSample(id pole.ID, v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[id] = v
}

// SetFault drives the simulated open-contact input.
func (b *Bank) SetFault(id pole.ID, fault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[id] = fault
}

// Light reports the simulated relay output.
func (b *Bank) Light(id pole.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lights[id]
}

// SenseEnabled reports the simulated sense-enable output.
func (b *Bank) SenseEnabled(id pole.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sense[id]
}

// Ops returns a copy of the recorded actuator and sensor calls. Fault reads
// are not recorded since they happen on every loop iteration.
func (b *Bank) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.ops...)
}

// ResetOps clears the call record.
func (b *Bank) ResetOps() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}
