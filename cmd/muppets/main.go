// command muppets is the firmware of the Master of Muppets USB-MIDI to
// CV bridge: it listens for pitch-bend messages and drives the board's
// I²C DACs through the real-time core.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/y3i12/master-of-muppets/driver/ad5593r"
	"github.com/y3i12/master-of-muppets/driver/mcp4728"
	"github.com/y3i12/master-of-muppets/i2cx"
	"github.com/y3i12/master-of-muppets/midi"
	"github.com/y3i12/master-of-muppets/muppets"
	"github.com/y3i12/master-of-muppets/sched"
	"github.com/y3i12/master-of-muppets/wavegen"
)

// Version is set by the Go linker with -ldflags='-X main.Version=...'.
var Version string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "muppets: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "muppets.yml", "configuration file")
		debug      = flag.Bool("debug", false, "verbose logging")
		listMidi   = flag.Bool("list-midi", false, "list MIDI inputs and exit")
		lfoShape   = flag.String("lfo", "", "self-test: replace MIDI with a waveform (sinus, triangle, ...)")
		lfoFreq    = flag.Float64("lfo-freq", 1, "self-test waveform frequency in Hz")
		lfoChannel = flag.Int("lfo-channel", -1, "self-test channel, -1 for all")
	)
	flag.Parse()

	log, level := initLogger(*debug)

	if *listMidi {
		names, err := midi.ListInputs()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !*debug {
		setLevel(level, cfg.LogLevel)
	}
	log.Info("starting", "version", Version, "dacs", len(cfg.Dacs))

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host: %w", err)
	}

	dacs, err := openDacs(cfg, log)
	if err != nil {
		return err
	}
	core, err := muppets.New(cfg.Core, dacs, log)
	if err != nil {
		return err
	}
	core.Start()

	switch {
	case *lfoShape != "":
		shape, err := wavegen.ParseShape(*lfoShape)
		if err != nil {
			return err
		}
		gen := wavegen.New(*lfoFreq)
		gen.SetAmplitude(0x7FFF)
		log.Info("self-test mode", "shape", shape.String(), "freq_hz", *lfoFreq)
		sched.Spawn(func() { runLFO(core, gen, shape, *lfoChannel) })
	case cfg.Midi.Serial != "":
		src, err := midi.OpenSerial(cfg.Midi.Serial, cfg.Midi.Baud, log)
		if err != nil {
			return err
		}
		sched.Spawn(func() { src.Run(core) })
	default:
		w, err := midi.NewWatcher(core, log)
		if err != nil {
			return err
		}
		w.Preferred = cfg.Midi.Preferred
		sched.Spawn(w.Run)
	}

	select {}
}

func initLogger(debug bool) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if debug {
		level.Set(slog.LevelDebug)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	log := slog.New(h)
	slog.SetDefault(log)
	return log, level
}

func setLevel(level *slog.LevelVar, name string) {
	switch name {
	case "debug":
		level.Set(slog.LevelDebug)
	case "", "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}
}

// openDacs brings up every configured DAC: bus, LDAC pin, adapter probe
// and, when asked for, the async engine.
func openDacs(cfg Config, log *slog.Logger) ([]muppets.Dac, error) {
	var dacs []muppets.Dac
	for i, dc := range cfg.Dacs {
		bus, err := i2creg.Open(dc.Bus)
		if err != nil {
			return nil, fmt.Errorf("dac %d: open bus %q: %w", i, dc.Bus, err)
		}
		if cfg.I2C.ClockHz > 0 {
			// Best effort; not every bus driver can change speed.
			_ = bus.SetSpeed(physic.Frequency(cfg.I2C.ClockHz) * physic.Hertz)
		}
		ldac := gpioreg.ByName(dc.LDAC)
		if ldac == nil {
			return nil, fmt.Errorf("dac %d: no GPIO %q", i, dc.LDAC)
		}
		dac, err := openDac(dc, bus, ldac, cfg.I2C.Timeout)
		if err != nil {
			return nil, fmt.Errorf("dac %d: %w", i, err)
		}
		log.Info("dac ready", "index", i, "driver", dc.Driver, "bus", dc.Bus, "async", dc.Async)
		dacs = append(dacs, dac)
	}
	return dacs, nil
}

func openDac(dc DacConfig, bus i2c.Bus, ldac gpio.PinOut, timeout time.Duration) (muppets.Dac, error) {
	newEngine := func(addr uint16) (*i2cx.Engine, error) {
		eng := &i2cx.Engine{}
		if kind := eng.Init(i2cx.Config{Bus: bus, Addr: addr, Timeout: timeout}); kind != i2cx.Success {
			return nil, fmt.Errorf("engine: %w", kind.Err())
		}
		return eng, nil
	}
	switch dc.Driver {
	case "ad5593r":
		dev := ad5593r.New(bus, dc.Addr, ldac)
		if err := dev.Init(); err != nil {
			return muppets.Dac{}, err
		}
		dac := muppets.Dac{Driver: dev}
		if dc.Async {
			eng, err := newEngine(dev.Addr())
			if err != nil {
				return muppets.Dac{}, err
			}
			dac.Async = ad5593r.NewAsync(dev, eng)
		}
		return dac, nil
	case "mcp4728":
		dev := mcp4728.New(bus, dc.Addr, ldac)
		if err := dev.Init(); err != nil {
			return muppets.Dac{}, err
		}
		dac := muppets.Dac{Driver: dev}
		if dc.Async {
			eng, err := newEngine(dev.Addr())
			if err != nil {
				return muppets.Dac{}, err
			}
			dac.Async = mcp4728.NewAsync(dev, eng)
		}
		return dac, nil
	}
	return muppets.Dac{}, fmt.Errorf("unknown driver %q", dc.Driver)
}

// runLFO sweeps the input buffer with the test waveform. Lifetime task.
func runLFO(core *muppets.Core, gen *wavegen.Generator, shape wavegen.Shape, channel int) {
	start := time.Now()
	for {
		t := time.Since(start).Seconds()
		v := int32(gen.Sample(shape, t)) + 0x8000
		if v < 0 {
			v = 0
		}
		if v > 0xFFFF {
			v = 0xFFFF
		}
		if channel >= 0 {
			core.SetChannel(channel, uint16(v))
		} else {
			core.SetAll(uint16(v))
		}
		sched.Sleep(time.Millisecond)
	}
}
