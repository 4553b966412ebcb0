package midi

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tarm/serial"
)

// Parser extracts pitch-bend messages from a raw MIDI byte stream. It
// understands running status and passes system real-time bytes through
// transparently; every other message is skipped.
type Parser struct {
	status byte
	data   [2]byte
	n      int
}

// Feed consumes one wire byte and reports a decoded pitch-bend event
// when the byte completes one.
func (p *Parser) Feed(b byte) (Bend, bool) {
	switch {
	case b >= 0xF8:
		// System real-time; transparent even mid-message.
		return Bend{}, false
	case b >= 0xF0:
		// System common cancels running status.
		p.status = 0
		p.n = 0
		return Bend{}, false
	case b >= 0x80:
		p.status = b
		p.n = 0
		return Bend{}, false
	}
	// Data byte.
	if p.status&0xF0 != 0xE0 {
		return Bend{}, false
	}
	p.data[p.n] = b
	p.n++
	if p.n < 2 {
		return Bend{}, false
	}
	// Running status: stay armed for the next two data bytes.
	p.n = 0
	value := int16(p.data[0]) | int16(p.data[1])<<7
	return Bend{
		Channel: p.status & 0x0F,
		Value:   value - pitchZeroOffset,
	}, true
}

// SerialSource reads DIN-MIDI from a serial port. The standard MIDI baud
// rate is 31250; USB-CDC bridges commonly run at 115200.
type SerialSource struct {
	port io.ReadCloser
	name string
	log  *slog.Logger
}

// OpenSerial opens the named serial device as a MIDI source.
func OpenSerial(name string, baud int, log *slog.Logger) (*SerialSource, error) {
	if baud <= 0 {
		baud = 31250
	}
	if log == nil {
		log = slog.Default()
	}
	p, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("midi: open %s: %w", name, err)
	}
	log.Info("midi: serial source open", "device", name, "baud", baud)
	return &SerialSource{port: p, name: name, log: log}, nil
}

// Run pumps the port into the sink until a read error. Lifetime task.
func (s *SerialSource) Run(sink Sink) {
	var p Parser
	buf := make([]byte, 64)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			s.log.Error("midi: serial read failed", "device", s.name, "err", err)
			return
		}
		for _, b := range buf[:n] {
			if bend, ok := p.Feed(b); ok {
				Deliver(sink, bend)
			}
		}
	}
}

// Close closes the underlying port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
