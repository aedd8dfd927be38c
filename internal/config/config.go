// Package config manages declarative node composition, loaded from TOML and
// optionally hot-reloaded as the file changes on disk.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ProducerConfig describes one [producers.<name>] section.
type ProducerConfig struct {
	Type       string `toml:"type"`
	Enabled    bool   `toml:"enabled"`
	Device     int    `toml:"device"`
	Path       string `toml:"path"`
	SampleRate int    `toml:"sample_rate"`
	Channels   int    `toml:"channels"`
	Loop       bool   `toml:"loop"`
}

// ProcessorConfig describes one [processors.<name>] section. Config carries
// variant-specific options (e.g. gain, mixer inputs) as a raw map so the
// flow builder can interpret them per Type.
type ProcessorConfig struct {
	Type   string                 `toml:"type"`
	Config map[string]interface{} `toml:"config"`
}

// FlowConfig describes one [flows.<name>] section.
type FlowConfig struct {
	Inputs     []string `toml:"inputs"`
	Processors []string `toml:"processors"`
	Outputs    []string `toml:"outputs"`
	Enabled    bool     `toml:"enabled"`
}

// RingBufferConfig describes one [ringbuffers.<id>] section.
type RingBufferConfig struct {
	Slots   int `toml:"slots"`
	ChunkMs int `toml:"chunk_ms"`
}

// Config is the root of a node's declarative composition.
type Config struct {
	Producers   map[string]ProducerConfig   `toml:"producers"`
	Processors  map[string]ProcessorConfig  `toml:"processors"`
	Flows       map[string]FlowConfig       `toml:"flows"`
	RingBuffers map[string]RingBufferConfig `toml:"ringbuffers"`
}

// Issue is a validation or load-time problem surfaced verbatim in node
// status, never interpreted by the audio plane itself.
type Issue struct {
	Key     string
	Message string
}

// Load reads and parses path as TOML. A parse failure is itself a fatal
// config error, returned directly rather than folded into Issues, since the
// caller has no Config to run with at all.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses raw TOML bytes directly, used by the config.import control
// action which receives a TOML payload over HTTP rather than a file path.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Validate checks referential integrity across sections: every flow's
// inputs and processors must name a configured producer/flow output or
// processor, respectively. Validation never panics or returns a Go error;
// problems are collected as Issues so they can be surfaced in node status.
func (c Config) Validate() []Issue {
	var issues []Issue

	knownOutputs := make(map[string]bool, len(c.Producers)+len(c.Flows))
	for name := range c.Producers {
		knownOutputs[name] = true
	}
	for name := range c.Flows {
		knownOutputs[name] = true
	}

	for flowName, f := range c.Flows {
		for _, in := range f.Inputs {
			if !knownOutputs[in] {
				issues = append(issues, Issue{
					Key:     "flows." + flowName + ".inputs",
					Message: fmt.Sprintf("unresolved input %q", in),
				})
			}
		}
		for _, procName := range f.Processors {
			if _, ok := c.Processors[procName]; !ok {
				issues = append(issues, Issue{
					Key:     "flows." + flowName + ".processors",
					Message: fmt.Sprintf("unresolved processor %q", procName),
				})
			}
		}
	}

	for name, p := range c.Producers {
		if p.Type == "" {
			issues = append(issues, Issue{Key: "producers." + name + ".type", Message: "type is required"})
		}
	}
	for name, p := range c.Processors {
		if p.Type == "" {
			issues = append(issues, Issue{Key: "processors." + name + ".type", Message: "type is required"})
		}
	}

	return issues
}
