package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Action is what a control token asks the unit to do.
type Action int

const (
	Light1On Action = iota + 1
	Light1Off
	Light2On
	Light2Off
	AllOn
	AllOff
	Light1OnLight2Off
	Light1OffLight2On
	Resistance1
	Resistance2
	ResistanceBoth
	ResetFaults
)

var actionNames = map[Action]string{
	Light1On:          "light1_on",
	Light1Off:         "light1_off",
	Light2On:          "light2_on",
	Light2Off:         "light2_off",
	AllOn:             "all_on",
	AllOff:            "all_off",
	Light1OnLight2Off: "light1_on_light2_off",
	Light1OffLight2On: "light1_off_light2_on",
	Resistance1:       "resistance1",
	Resistance2:       "resistance2",
	ResistanceBoth:    "resistance_both",
	ResetFaults:       "reset_faults",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction returns the action with the given configuration name.
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// MaxRangeWidth bounds the token range so a typo cannot make most of the
// byte space valid.
const MaxRangeWidth = 64

// Table maps control bytes to actions. Only bytes inside [Lo, Hi] that are
// mapped are valid; everything else is unknown.
type Table struct {
	Lo, Hi  byte
	actions map[byte]Action
}

// NewTable builds a table. When lo and hi are both zero the range is the
// smallest one covering every mapped byte.
func NewTable(actions map[byte]Action, lo, hi byte) (Table, error) {
	if len(actions) == 0 {
		return Table{}, ErrEmptyTable
	}
	if lo == 0 && hi == 0 {
		lo, hi = 0xFF, 0
		for b := range actions {
			lo = min(lo, b)
			hi = max(hi, b)
		}
	}
	if lo > hi {
		return Table{}, fmt.Errorf("token range %#x..%#x is inverted", lo, hi)
	}
	if int(hi)-int(lo)+1 > MaxRangeWidth {
		return Table{}, fmt.Errorf("%w: %#x..%#x", ErrRangeTooWide, lo, hi)
	}
	m := make(map[byte]Action, len(actions))
	for b, a := range actions {
		if b < lo || b > hi {
			return Table{}, fmt.Errorf("token %q outside range %q..%q", b, lo, hi)
		}
		if _, ok := actionNames[a]; !ok {
			return Table{}, fmt.Errorf("%w: %v", ErrUnknownAction, a)
		}
		m[b] = a
	}
	return Table{Lo: lo, Hi: hi, actions: m}, nil
}

// DefaultTable is the token set the deployed units understand:
// 'A'..'I' for the single and combined light and resistance requests.
func DefaultTable() Table {
	t, err := NewTable(map[byte]Action{
		'A': Light1On,
		'B': Light1Off,
		'C': Light2On,
		'D': Light2Off,
		'E': AllOn,
		'F': AllOff,
		'G': Resistance1,
		'H': Resistance2,
		'I': ResistanceBoth,
	}, 'A', 'I')
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTable builds a table from configuration. Keys are single characters
// or numeric byte values ("0x41", "65"); values are action names. lo and hi
// use the same key syntax and may be empty.
func ParseTable(tokens map[string]string, lo, hi string) (Table, error) {
	actions := make(map[byte]Action, len(tokens))
	for k, v := range tokens {
		b, err := parseTokenByte(k)
		if err != nil {
			return Table{}, err
		}
		a, err := ParseAction(v)
		if err != nil {
			return Table{}, fmt.Errorf("token %q: %w", k, err)
		}
		if _, dup := actions[b]; dup {
			return Table{}, fmt.Errorf("token %q mapped twice", k)
		}
		actions[b] = a
	}
	var l, h byte
	if lo != "" || hi != "" {
		var err error
		if l, err = parseTokenByte(lo); err != nil {
			return Table{}, fmt.Errorf("range low: %w", err)
		}
		if h, err = parseTokenByte(hi); err != nil {
			return Table{}, fmt.Errorf("range high: %w", err)
		}
	}
	return NewTable(actions, l, h)
}

func parseTokenByte(s string) (byte, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid token %q", s)
	}
	return byte(n), nil
}

// Lookup resolves a control byte.
func (t Table) Lookup(b byte) (Action, bool) {
	if b < t.Lo || b > t.Hi {
		return 0, false
	}
	a, ok := t.actions[b]
	return a, ok
}

// Tokens lists the mapped bytes in ascending order.
func (t Table) Tokens() []byte {
	out := make([]byte, 0, len(t.actions))
	for b := range t.actions {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
