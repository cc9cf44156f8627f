// Package modbusio drives the poles through a Modbus remote I/O module,
// over RTU on a serial line or over TCP.
package modbusio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"i4.energy/across/polectl/pole"
)

// Points maps one pole onto the I/O module.
type Points struct {
	LightCoil      uint16 `yaml:"light_coil"`
	SenseCoil      uint16 `yaml:"sense_coil"`
	FaultInput     uint16 `yaml:"fault_input"`
	SampleRegister uint16 `yaml:"sample_register"`
}

type Config struct {
	// Address is a serial device for RTU or tcp://host:port.
	Address  string        `yaml:"address"`
	BaudRate int           `yaml:"baud_rate"`
	SlaveID  uint8         `yaml:"slave_id"`
	Timeout  time.Duration `yaml:"timeout"`

	Pole1 Points `yaml:"pole1"`
	Pole2 Points `yaml:"pole2"`

	// FullScale is the register value that maps to 255.
	FullScale uint16 `yaml:"full_scale"`
	// Both lines are wired active low on the reference board.
	FaultActiveLow bool `yaml:"fault_active_low"`
	SenseActiveLow bool `yaml:"sense_active_low"`
}

func DefaultConfig() Config {
	return Config{
		BaudRate:       9600,
		SlaveID:        1,
		Timeout:        time.Second,
		Pole1:          Points{LightCoil: 0, SenseCoil: 2, FaultInput: 0, SampleRegister: 0},
		Pole2:          Points{LightCoil: 1, SenseCoil: 3, FaultInput: 1, SampleRegister: 1},
		FullScale:      4095,
		FaultActiveLow: true,
		SenseActiveLow: true,
	}
}

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// client is the subset of modbus.Client the bank needs.
type client interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

type handler interface {
	Connect() error
	Close() error
}

// Bank implements pole.Bank against a Modbus I/O module. Requests are
// serialized; a conversion holds the lock so the channel cannot switch
// under it.
type Bank struct {
	mu       sync.Mutex
	client   client
	handler  handler
	cfg      Config
	points   map[pole.ID]Points
	selected pole.ID
}

var _ pole.Bank = (*Bank)(nil)

// Dial connects to the module and drives both poles to lights off with
// sensing enabled.
func Dial(cfg Config) (*Bank, error) {
	if cfg.Address == "" {
		return nil, errors.New("modbusio: address required")
	}

	var (
		h modbus.ClientHandler
		c handler
	)
	if addr, ok := strings.CutPrefix(cfg.Address, "tcp://"); ok {
		th := modbus.NewTCPClientHandler(addr)
		th.Timeout = cfg.Timeout
		th.SlaveId = cfg.SlaveID
		h, c = th, th
	} else {
		rh := modbus.NewRTUClientHandler(cfg.Address)
		rh.BaudRate = cfg.BaudRate
		rh.DataBits = 8
		rh.Parity = "N"
		rh.StopBits = 1
		rh.SlaveId = cfg.SlaveID
		rh.Timeout = cfg.Timeout
		h, c = rh, rh
	}
	if err := c.Connect(); err != nil {
		return nil, fmt.Errorf("modbusio: connect %s: %w", cfg.Address, err)
	}

	b, err := newBank(modbus.NewClient(h), cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	b.handler = c
	return b, nil
}

func newBank(c client, cfg Config) (*Bank, error) {
	if cfg.FullScale == 0 {
		cfg.FullScale = DefaultConfig().FullScale
	}
	b := &Bank{
		client:   c,
		cfg:      cfg,
		points:   map[pole.ID]Points{pole.One: cfg.Pole1, pole.Two: cfg.Pole2},
		selected: pole.One,
	}
	ctx := context.Background()
	for _, id := range pole.All {
		if err := b.SetLight(ctx, id, false); err != nil {
			return nil, err
		}
		if err := b.SetSenseEnable(ctx, id, true); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bank) pointsFor(id pole.ID) (Points, error) {
	p, ok := b.points[id]
	if !ok {
		return Points{}, fmt.Errorf("modbusio: invalid %v", id)
	}
	return p, nil
}

func (b *Bank) writeCoil(addr uint16, on bool) error {
	v := uint16(coilOff)
	if on {
		v = coilOn
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.client.WriteSingleCoil(addr, v)
	return err
}

func (b *Bank) SelectChannel(_ context.Context, id pole.ID) error {
	if _, err := b.pointsFor(id); err != nil {
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
	p := b.points[b.selected]
	res, err := b.client.ReadInputRegisters(p.SampleRegister, 1)
	if err != nil {
		return 0, fmt.Errorf("read %v: %w", b.selected, err)
	}
	if len(res) < 2 {
		return 0, fmt.Errorf("read %v: short response %d bytes", b.selected, len(res))
	}
	raw := uint16(res[0])<<8 | uint16(res[1])
	return rescale(raw, b.cfg.FullScale), nil
}

func (b *Bank) SetLight(_ context.Context, id pole.ID, on bool) error {
	p, err := b.pointsFor(id)
	if err != nil {
		return err
	}
	if err := b.writeCoil(p.LightCoil, on); err != nil {
		return fmt.Errorf("%v light: %w", id, err)
	}
	return nil
}

func (b *Bank) ReadFault(_ context.Context, id pole.ID) (bool, error) {
	p, err := b.pointsFor(id)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	res, err := b.client.ReadDiscreteInputs(p.FaultInput, 1)
	b.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("%v fault input: %w", id, err)
	}
	if len(res) < 1 {
		return false, fmt.Errorf("%v fault input: empty response", id)
	}
	level := res[0]&1 == 1
	return level != b.cfg.FaultActiveLow, nil
}

func (b *Bank) SetSenseEnable(_ context.Context, id pole.ID, enabled bool) error {
	p, err := b.pointsFor(id)
	if err != nil {
		return err
	}
	if err := b.writeCoil(p.SenseCoil, enabled != b.cfg.SenseActiveLow); err != nil {
		return fmt.Errorf("%v sense enable: %w", id, err)
	}
	return nil
}

func (b *Bank) Close() error {
	if b.handler == nil {
		return nil
	}
	return b.handler.Close()
}

// rescale maps 0..full onto 0..255, clamping above full.
func rescale(raw, full uint16) uint8 {
	if raw >= full {
		return 255
	}
	return uint8(uint32(raw) * 255 / uint32(full))
}
