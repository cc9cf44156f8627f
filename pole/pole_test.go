package pole_test

import (
	"errors"
	"testing"

	"i4.energy/across/polectl/pole"
)

func TestEncodeSample(t *testing.T) {
	tests := []struct {
		in   uint8
		want string
	}{
		{0x00, "00000000"},
		{0xFF, "11111111"},
		{0x6A, "01101010"},
		{0x80, "10000000"},
		{0x01, "00000001"},
	}
	for _, tt := range tests {
		if got := pole.EncodeSample(tt.in); got != tt.want {
			t.Errorf("EncodeSample(%#x): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestSampleBitOrderAndRoundTrip(t *testing.T) {
	for v := 0; v < 256; v++ {
		b := uint8(v)
		s := pole.EncodeSample(b)
		for i := 0; i < pole.SampleWidth; i++ {
			set := b&(1<<(7-i)) != 0
			if (s[i] == '1') != set {
				t.Fatalf("value %#x: char %d is %q, bit %d set=%v", b, i, s[i], 7-i, set)
			}
		}
		got, err := pole.DecodeSample(s)
		if err != nil {
			t.Fatalf("DecodeSample(%q): %v", s, err)
		}
		if got != b {
			t.Fatalf("round trip %#x -> %q -> %#x", b, s, got)
		}
	}
}

func TestDecodeSampleRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "0101", "0110101x", "011010101"} {
		if _, err := pole.DecodeSample(s); !errors.Is(err, pole.ErrBadSample) {
			t.Errorf("DecodeSample(%q): expected ErrBadSample, got %v", s, err)
		}
	}
}

func TestLatch(t *testing.T) {
	var l pole.Latch
	if !l.Trip() {
		t.Fatal("first trip must be the rising edge")
	}
	for i := 0; i < 3; i++ {
		if l.Trip() {
			t.Fatal("repeated trips must not fire again")
		}
	}
	if !l.Set() {
		t.Error("latch must stay set")
	}
	if !l.Clear() {
		t.Error("clear must report the latch was set")
	}
	if l.Clear() {
		t.Error("second clear must report nothing to clear")
	}
	if !l.Trip() {
		t.Error("trip after clear must fire again")
	}
}

func TestIDValid(t *testing.T) {
	if !pole.One.Valid() || !pole.Two.Valid() {
		t.Error("poles one and two must be valid")
	}
	if pole.ID(0).Valid() || pole.ID(3).Valid() {
		t.Error("only poles one and two are valid")
	}
	if pole.Two.String() != "pole2" {
		t.Errorf("unexpected name %q", pole.Two.String())
	}
}
