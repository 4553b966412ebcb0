package midi

import "testing"

func TestScale14(t *testing.T) {
	cases := []struct {
		pitch int16
		want  uint16
	}{
		{-0x2000, 0x0000},
		{-1, 0x7FFC},
		{0, 0x8000},
		{1, 0x8004},
		{0x1FFF, 0xFFFC},
	}
	for _, c := range cases {
		if got := Scale14(c.pitch); got != c.want {
			t.Errorf("Scale14(%#x) = %#x, want %#x", c.pitch, got, c.want)
		}
	}
}

func TestScale14Clamps(t *testing.T) {
	// Values outside the legal 14-bit range clamp instead of wrapping.
	if got := Scale14(-0x2001); got != 0 {
		t.Errorf("Scale14(-0x2001) = %#x, want 0", got)
	}
	if got := Scale14(0x2000); got != 0xFFFC {
		t.Errorf("Scale14(0x2000) = %#x, want 0xfffc", got)
	}
}

func feedAll(t *testing.T, p *Parser, bytes []byte) []Bend {
	t.Helper()
	var out []Bend
	for _, b := range bytes {
		if bend, ok := p.Feed(b); ok {
			out = append(out, bend)
		}
	}
	return out
}

func TestParserPitchBend(t *testing.T) {
	var p Parser
	// Center on channel 1 (wire channel 0): 0xE0 0x00 0x40.
	got := feedAll(t, &p, []byte{0xE0, 0x00, 0x40})
	if len(got) != 1 || got[0].Channel != 0 || got[0].Value != 0 {
		t.Fatalf("bends = %+v", got)
	}
	// Max up on channel 3: 0xE2 0x7F 0x7F.
	got = feedAll(t, &p, []byte{0xE2, 0x7F, 0x7F})
	if len(got) != 1 || got[0].Channel != 2 || got[0].Value != 0x1FFF {
		t.Fatalf("bends = %+v", got)
	}
}

func TestParserRunningStatus(t *testing.T) {
	var p Parser
	got := feedAll(t, &p, []byte{0xE0, 0x00, 0x40, 0x00, 0x00, 0x7F, 0x7F})
	if len(got) != 3 {
		t.Fatalf("decoded %d bends, want 3", len(got))
	}
	if got[1].Value != -0x2000 {
		t.Errorf("second bend = %#x, want -0x2000", got[1].Value)
	}
	if got[2].Value != 0x1FFF {
		t.Errorf("third bend = %#x, want 0x1fff", got[2].Value)
	}
}

func TestParserIgnoresOtherMessages(t *testing.T) {
	var p Parser
	// A note-on, its data, then a pitch bend.
	got := feedAll(t, &p, []byte{0x90, 0x40, 0x7F, 0xE0, 0x00, 0x40})
	if len(got) != 1 {
		t.Fatalf("decoded %d bends, want 1", len(got))
	}
	if got[0].Value != 0 {
		t.Errorf("bend = %#x, want 0", got[0].Value)
	}
}

func TestParserRealTimeTransparent(t *testing.T) {
	var p Parser
	// Clock bytes interleaved mid-message must not disturb decoding.
	got := feedAll(t, &p, []byte{0xE0, 0xF8, 0x00, 0xFE, 0x40})
	if len(got) != 1 || got[0].Value != 0 {
		t.Fatalf("bends = %+v", got)
	}
}

func TestParserSystemCommonCancelsRunningStatus(t *testing.T) {
	var p Parser
	got := feedAll(t, &p, []byte{0xE0, 0x00, 0x40, 0xF1, 0x04, 0x00, 0x40})
	if len(got) != 1 {
		t.Fatalf("decoded %d bends, want 1 (running status must not survive system common)", len(got))
	}
}

type sinkFunc func(i int, v uint16)

func (f sinkFunc) SetChannel(i int, v uint16) { f(i, v) }

func TestDeliver(t *testing.T) {
	var gotI int
	var gotV uint16
	Deliver(sinkFunc(func(i int, v uint16) { gotI, gotV = i, v }), Bend{Channel: 7, Value: 0x1FFF})
	if gotI != 7 || gotV != 0xFFFC {
		t.Fatalf("delivered (%d, %#x)", gotI, gotV)
	}
}
