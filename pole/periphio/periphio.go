// Package periphio drives the poles through local GPIO lines and an ADS1115
// converter on the I2C bus, using periph.io.
package periphio

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"i4.energy/across/polectl/pole"
)

// Pins names the GPIO lines of one pole as known to gpioreg.
type Pins struct {
	Light string `yaml:"light"`
	Fault string `yaml:"fault"` // active low
	Sense string `yaml:"sense"` // active low
}

// Config selects the lines and the converter.
type Config struct {
	Pole1 Pins `yaml:"pole1"`
	Pole2 Pins `yaml:"pole2"`
	// I2CBus is passed to i2creg.Open; empty selects the first bus.
	I2CBus     string `yaml:"i2c_bus"`
	ADCAddress uint16 `yaml:"adc_address"`
	// VrefMillivolts is the input that reads as 255.
	VrefMillivolts int `yaml:"vref_mv"`
}

// DefaultConfig matches the reference wiring on a Raspberry Pi header.
func DefaultConfig() Config {
	return Config{
		Pole1:          Pins{Light: "GPIO17", Fault: "GPIO27", Sense: "GPIO22"},
		Pole2:          Pins{Light: "GPIO23", Fault: "GPIO24", Sense: "GPIO25"},
		ADCAddress:     0x48,
		VrefMillivolts: 5000,
	}
}

// adcPin is the part of ads1x15.PinADC the bank uses.
type adcPin interface {
	Read() (analog.Sample, error)
	Halt() error
}

type line struct {
	light gpio.PinOut
	fault gpio.PinIn
	sense gpio.PinOut
	adc   adcPin
}

// Bank implements pole.Bank on periph.io devices.
type Bank struct {
	vref physic.ElectricPotential

	// mu is held for the whole of a conversion so the channel can never
	// switch under it.
	mu       sync.Mutex
	selected pole.ID
	lines    map[pole.ID]*line

	bus i2c.BusCloser
}

var _ pole.Bank = (*Bank)(nil)

// Open initializes the host drivers, claims the pins and the converter,
// and drives both poles to lights off with sensing enabled.
func Open(cfg Config) (*Bank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	opts := ads1x15.DefaultOpts
	if cfg.ADCAddress != 0 {
		opts.I2cAddress = cfg.ADCAddress
	}
	adc, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ads1115: %w", err)
	}

	vref := physic.ElectricPotential(cfg.VrefMillivolts) * physic.MilliVolt
	if vref <= 0 {
		vref = 5 * physic.Volt
	}

	lines := map[pole.ID]*line{}
	channels := map[pole.ID]ads1x15.Channel{pole.One: ads1x15.Channel0, pole.Two: ads1x15.Channel1}
	for id, pins := range map[pole.ID]Pins{pole.One: cfg.Pole1, pole.Two: cfg.Pole2} {
		l, err := lookup(pins)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("%v: %w", id, err)
		}
		pin, err := adc.PinForChannel(channels[id], vref, 128*physic.Hertz, ads1x15.SaveEnergy)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("%v: adc channel: %w", id, err)
		}
		l.adc = pin
		lines[id] = l
	}

	b, err := newBank(lines, vref)
	if err != nil {
		bus.Close()
		return nil, err
	}
	b.bus = bus
	return b, nil
}

func lookup(p Pins) (*line, error) {
	var l line
	for _, x := range []struct {
		name string
		set  func(gpio.PinIO)
	}{
		{p.Light, func(pin gpio.PinIO) { l.light = pin }},
		{p.Fault, func(pin gpio.PinIO) { l.fault = pin }},
		{p.Sense, func(pin gpio.PinIO) { l.sense = pin }},
	} {
		pin := gpioreg.ByName(x.name)
		if pin == nil {
			return nil, fmt.Errorf("unknown gpio %q", x.name)
		}
		x.set(pin)
	}
	return &l, nil
}

func newBank(lines map[pole.ID]*line, vref physic.ElectricPotential) (*Bank, error) {
	for id, l := range lines {
		if err := l.light.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("%v: light: %w", id, err)
		}
		if err := l.fault.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("%v: fault input: %w", id, err)
		}
		if err := l.sense.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("%v: sense enable: %w", id, err)
		}
	}
	return &Bank{vref: vref, selected: pole.One, lines: lines}, nil
}

func (b *Bank) line(id pole.ID) (*line, error) {
	l, ok := b.lines[id]
	if !ok {
		return nil, fmt.Errorf("periphio: invalid %v", id)
	}
	return l, nil
}

func (b *Bank) SelectChannel(_ context.Context, id pole.ID) error {
	if _, err := b.line(id); err != nil {
		return err
	}
	b.mu.Lock()
	b.selected = id
	b.mu.Unlock()
	return nil
}

func (b *Bank) Read(_ context.Context) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.lines[b.selected].adc.Read()
	if err != nil {
		return 0, fmt.Errorf("read %v: %w", b.selected, err)
	}
	return scale(s.V, b.vref), nil
}

func (b *Bank) SetLight(_ context.Context, id pole.ID, on bool) error {
	l, err := b.line(id)
	if err != nil {
		return err
	}
	return l.light.Out(gpio.Level(on))
}

func (b *Bank) ReadFault(_ context.Context, id pole.ID) (bool, error) {
	l, err := b.line(id)
	if err != nil {
		return false, err
	}
	return l.fault.Read() == gpio.Low, nil
}

func (b *Bank) SetSenseEnable(_ context.Context, id pole.ID, enabled bool) error {
	l, err := b.line(id)
	if err != nil {
		return err
	}
	return l.sense.Out(gpio.Level(!enabled))
}

// Close halts the converter channels and releases the bus.
func (b *Bank) Close() error {
	for _, l := range b.lines {
		l.adc.Halt()
	}
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

// scale maps 0..vref linearly onto 0..255, clamping outside the range.
func scale(v, vref physic.ElectricPotential) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= vref:
		return 255
	}
	return uint8(int64(v) * 255 / int64(vref))
}

// PowerKey drives the modem PWRKEY through a GPIO line.
type PowerKey struct {
	pin gpio.PinOut
}

// NewPowerKey claims the named line and leaves it high (released).
func NewPowerKey(name string) (*PowerKey, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown gpio %q", name)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("power key %s: %w", name, err)
	}
	return &PowerKey{pin: pin}, nil
}

func (k *PowerKey) Drive(high bool) error {
	return k.pin.Out(gpio.Level(high))
}
