// Package pole models the two independently sensed and actuated circuits of
// the unit: a light relay, its contact-resistance sensor, its sense-enable
// line and its open-contact fault input.
package pole

import (
	"context"
	"fmt"
)

// ID identifies a pole. Valid values are One and Two.
type ID int

const (
	One ID = 1
	Two ID = 2
)

// All lists the poles in the fixed order used for combined operations.
var All = [...]ID{One, Two}

// Valid reports whether id names an existing pole.
func (id ID) Valid() bool { return id == One || id == Two }

func (id ID) String() string {
	return fmt.Sprintf("pole%d", int(id))
}

// Sensor is the analog resistance proxy of both poles behind one converter.
type Sensor interface {
	// SelectChannel switches the converter to the given pole, waiting for
	// any in-flight conversion to finish first.
	SelectChannel(ctx context.Context, id ID) error
	// Read converts the selected channel and returns the reading scaled
	// linearly from 0..Vref to 0..255.
	Read(ctx context.Context) (uint8, error)
}

// Actuators is the digital side of both poles.
type Actuators interface {
	// SetLight drives the light relay of a pole. Idempotent.
	SetLight(ctx context.Context, id ID, on bool) error
	// ReadFault reports whether the open-contact input of a pole is asserted.
	ReadFault(ctx context.Context, id ID) (bool, error)
	// SetSenseEnable gates the resistance sensing circuit of a pole.
	SetSenseEnable(ctx context.Context, id ID, enabled bool) error
}

// Bank is a complete hardware backend.
type Bank interface {
	Sensor
	Actuators
}

// State is the volatile view the unit keeps of one pole.
type State struct {
	ID           ID    `json:"id"`
	Sample       uint8 `json:"sample"`
	LightOn      bool  `json:"light_on"`
	Fault        bool  `json:"fault"`
	SenseEnabled bool  `json:"sense_enabled"`
	Latch        Latch `json:"latched"`
}

// Latch is a one-shot flag: it fires once per fault episode and stays set
// until explicitly cleared.
type Latch bool

// Trip sets the latch and reports whether this call was the rising edge.
func (l *Latch) Trip() bool {
	if *l {
		return false
	}
	*l = true
	return true
}

// Clear resets the latch and reports whether it was set.
func (l *Latch) Clear() bool {
	was := bool(*l)
	*l = false
	return was
}

// Set reports whether the latch is set.
func (l Latch) Set() bool { return bool(l) }
