package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/y3i12/master-of-muppets/muppets"
)

// DacConfig describes one DAC position on the board.
type DacConfig struct {
	// Driver selects the adapter: "ad5593r" or "mcp4728".
	Driver string `yaml:"driver"`
	// Bus is the periph.io bus name or number, e.g. "/dev/i2c-1" or "1".
	Bus string `yaml:"bus"`
	// Addr overrides the chip's default 7-bit address when nonzero.
	Addr uint16 `yaml:"addr"`
	// LDAC is the gpioreg pin name driving the chip's LDAC line.
	LDAC string `yaml:"ldac"`
	// Async routes updates through the asynchronous transfer engine.
	Async bool `yaml:"async"`
}

// I2CConfig tunes the buses.
type I2CConfig struct {
	ClockHz int           `yaml:"clock_hz"`
	Timeout time.Duration `yaml:"timeout"`
}

// MidiConfig tunes the ingress source.
type MidiConfig struct {
	// Preferred device-name patterns for the rtmidi watcher.
	Preferred []string `yaml:"preferred"`
	// Serial switches ingress to a DIN-MIDI serial port when set.
	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
}

// Config is the firmware configuration, loadable from YAML.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Core     muppets.Config `yaml:"core"`
	I2C      I2CConfig      `yaml:"i2c"`
	Dacs     []DacConfig    `yaml:"dacs"`
	Midi     MidiConfig     `yaml:"midi"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Core:     muppets.DefaultConfig(),
		I2C: I2CConfig{
			ClockHz: 400_000,
			Timeout: 100 * time.Millisecond,
		},
		Dacs: []DacConfig{
			{Driver: "ad5593r", Bus: "2", LDAC: "11"},
			{Driver: "ad5593r", Bus: "1", LDAC: "37"},
		},
		Midi: MidiConfig{Baud: 31250},
	}
}

// loadConfig layers an optional YAML file over the defaults. A missing
// file is not an error; a malformed one is.
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "yaml"), nil); err != nil {
		return Config{}, fmt.Errorf("defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.Dacs) == 0 {
		return Config{}, fmt.Errorf("%s: no DACs configured", path)
	}
	return cfg, nil
}
