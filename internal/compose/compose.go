// Package compose turns a config.Config into live producers and flows
// registered against a node.Node: the declarative-to-running translation
// step between config load/reload and the running audio plane.
package compose

import (
	"context"
	"fmt"
	"time"

	"github.com/davdef/airlift-node-sub001/internal/config"
	"github.com/davdef/airlift-node-sub001/internal/flow"
	"github.com/davdef/airlift-node-sub001/internal/node"
	"github.com/davdef/airlift-node-sub001/internal/producer"
	"github.com/davdef/airlift-node-sub001/internal/registry"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// DefaultRingSlots is used for any [ringbuffers.<id>] section left
// unconfigured.
const DefaultRingSlots = 256

// Apply builds producers and flows described by cfg and registers them on n.
// Producer.Type selects the variant: "device", "file", or "ws". An unknown
// producer or processor type, or a flow naming an unconfigured processor,
// makes Apply return an error; Config.Validate should be run first so
// callers can surface such problems as configuration issues.
func Apply(ctx context.Context, cfg config.Config, reg *registry.Registry, n *node.Node) error {
	for name, pc := range cfg.Producers {
		if !pc.Enabled {
			continue
		}
		p, err := newProducer(name, pc)
		if err != nil {
			return fmt.Errorf("compose: producer %q: %w", name, err)
		}

		slots := DefaultRingSlots
		if rb, ok := cfg.RingBuffers[name]; ok && rb.Slots > 0 {
			slots = rb.Slots
		}
		buf := ring.New("producer:"+name, slots)
		n.AddProducer(name, p, buf)
	}

	for name, fc := range cfg.Flows {
		if !fc.Enabled {
			continue
		}
		stages, err := buildStages(fc, cfg.Processors)
		if err != nil {
			return fmt.Errorf("compose: flow %q: %w", name, err)
		}
		f := flow.New(flow.Config{Name: name, Inputs: fc.Inputs, Stages: stages}, reg, n.History())
		n.AddFlow(f)
	}

	return nil
}

func newProducer(name string, pc config.ProducerConfig) (producer.Producer, error) {
	switch pc.Type {
	case "device":
		sampleRate := float64(pc.SampleRate)
		if sampleRate <= 0 {
			sampleRate = 48000
		}
		channels := pc.Channels
		if channels <= 0 {
			channels = 2
		}
		return producer.NewDevice(name, pc.Device, sampleRate, channels, 100*time.Millisecond), nil
	case "file":
		return producer.NewFileLoop(name, pc.Path, pc.Loop, 100*time.Millisecond), nil
	case "ws":
		return producer.NewWS(name), nil
	default:
		return nil, fmt.Errorf("unknown producer type %q", pc.Type)
	}
}

// buildStages translates a flow's named processor references into an
// ordered StageSpec chain. A flow with no processors gets a single
// pass-through stage, matching flow.New's own zero-stage default.
func buildStages(fc config.FlowConfig, processors map[string]config.ProcessorConfig) ([]flow.StageSpec, error) {
	if len(fc.Processors) == 0 {
		return []flow.StageSpec{{Name: "default", Kind: flow.KindPassThrough}}, nil
	}

	stages := make([]flow.StageSpec, 0, len(fc.Processors))
	for _, procName := range fc.Processors {
		pc, ok := processors[procName]
		if !ok {
			return nil, fmt.Errorf("unresolved processor %q", procName)
		}
		stage, err := buildStage(procName, pc)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %w", procName, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func buildStage(name string, pc config.ProcessorConfig) (flow.StageSpec, error) {
	switch pc.Type {
	case "pass_through":
		return flow.StageSpec{Name: name, Kind: flow.KindPassThrough}, nil
	case "gain":
		gain, _ := pc.Config["gain"].(float64)
		if gain == 0 {
			gain = 1
		}
		return flow.StageSpec{Name: name, Kind: flow.KindGain, Gain: gain}, nil
	case "mixer":
		raw, ok := pc.Config["inputs"].([]interface{})
		if !ok || len(raw) == 0 {
			return flow.StageSpec{}, fmt.Errorf("mixer requires a non-empty inputs list")
		}
		inputs := make([]flow.MixerInputSpec, 0, len(raw))
		for _, item := range raw {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return flow.StageSpec{}, fmt.Errorf("mixer input entries must be tables with name/gain")
			}
			inName, _ := entry["name"].(string)
			if inName == "" {
				return flow.StageSpec{}, fmt.Errorf("mixer input missing name")
			}
			gain, ok := entry["gain"].(float64)
			if !ok {
				gain = 1
			}
			inputs = append(inputs, flow.MixerInputSpec{Name: inName, Gain: gain})
		}
		return flow.StageSpec{Name: name, Kind: flow.KindMixer, MixerInputs: inputs}, nil
	default:
		return flow.StageSpec{}, fmt.Errorf("unknown processor type %q", pc.Type)
	}
}
