package midi

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/y3i12/master-of-muppets/sched"
)

// RescanInterval is how often the watcher looks for appearing or
// disappearing devices.
const RescanInterval = time.Second

// Excluded ports are virtual/system ports that are never auto-connected.
var defaultExcluded = []string{"Midi Through", "Through Port", "Dummy"}

// Watcher monitors available MIDI inputs and keeps a connection to one,
// handling hot-plug and hot-unplug transparently. Pitch-bend messages are
// delivered to the sink; everything else is dropped.
type Watcher struct {
	// Preferred device-name patterns, matched case-insensitively and in
	// order. With no match and exactly one candidate, that one is used.
	Preferred []string
	// Excluded device-name patterns. NewWatcher sets the default virtual
	// port exclusions; an empty list excludes nothing.
	Excluded []string

	sink Sink
	log  *slog.Logger

	mu           sync.Mutex
	drv          *rtmididrv.Driver
	in           drivers.In
	stop         func()
	connected    bool
	selectedName string
	lastRescan   time.Time
}

// ListInputs enumerates the available MIDI input ports.
func ListInputs() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi: rtmididrv: %w", err)
	}
	defer drv.Close()
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("midi: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// NewWatcher creates a watcher delivering to sink. Call Run as a lifetime
// task, or Tick from your own loop.
func NewWatcher(sink Sink, log *slog.Logger) (*Watcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi: rtmididrv: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		Excluded: defaultExcluded,
		sink:     sink,
		log:      log,
		drv:      drv,
	}, nil
}

// Close shuts down the active connection and the rtmidi driver.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeConn()
	w.drv.Close()
}

// Run pumps Tick forever. The MIDI driver pushes events from its own
// context; this task only maintains the connection.
func (w *Watcher) Run() {
	for {
		w.Tick()
		sched.Sleep(RescanInterval)
	}
}

// Tick scans for devices, auto-connects to a preferred one and detects
// disappearances. Safe to call at any rate; scans are throttled to
// RescanInterval.
func (w *Watcher) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if !w.lastRescan.IsZero() && now.Sub(w.lastRescan) < RescanInterval {
		return
	}
	w.lastRescan = now

	inputs := w.listInputs()

	if w.connected {
		for _, n := range inputs {
			if n == w.selectedName {
				return
			}
		}
		w.log.Warn("midi: device disappeared", "device", w.selectedName)
		w.closeConn()
		w.lastRescan = time.Time{}
		return
	}

	if len(inputs) == 0 {
		return
	}
	cand, ok := w.pick(inputs)
	if !ok {
		return
	}
	if err := w.openByName(cand); err != nil {
		w.log.Error("midi: connect failed", "device", cand, "err", err)
	}
}

func (w *Watcher) listInputs() []string {
	ins, err := w.drv.Ins()
	if err != nil {
		w.log.Error("midi: list inputs failed", "err", err)
		return nil
	}
	var names []string
	for _, in := range ins {
		name := in.String()
		if matchesAny(name, w.Excluded) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (w *Watcher) pick(inputs []string) (string, bool) {
	for _, pat := range w.Preferred {
		for _, name := range inputs {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(inputs) == 1 {
		return inputs[0], true
	}
	return "", false
}

func (w *Watcher) closeConn() {
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
	if w.in != nil {
		_ = w.in.Close()
		w.in = nil
	}
	w.connected = false
	w.selectedName = ""
}

func (w *Watcher) openByName(name string) error {
	ins, err := w.drv.Ins()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		var ch uint8
		var rel int16
		var abs uint16
		if msg.GetPitchBend(&ch, &rel, &abs) {
			Deliver(w.sink, Bend{Channel: ch, Value: rel})
		}
	}, midi.HandleError(func(listenErr error) {
		w.log.Warn("midi: listener error", "device", name, "err", listenErr)
		// Not safe to close from the listener context; hand off and
		// re-acquire.
		go func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.connected && w.selectedName == name {
				w.closeConn()
				w.lastRescan = time.Time{}
			}
		}()
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	w.in = found
	w.stop = stop
	w.connected = true
	w.selectedName = name
	w.log.Info("midi: connected", "device", name)
	return nil
}

func matchesAny(name string, pats []string) bool {
	for _, pat := range pats {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
