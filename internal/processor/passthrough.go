package processor

import "github.com/davdef/airlift-node-sub001/internal/ring"

// PassThrough drains its input ring and pushes each frame to output
// unchanged.
type PassThrough struct {
	name  string
	input *ring.AudioRingBuffer
}

// NewPassThrough binds a pass-through stage to input.
func NewPassThrough(name string, input *ring.AudioRingBuffer) *PassThrough {
	return &PassThrough{name: name, input: input}
}

func (p *PassThrough) Name() string { return p.name }

func (p *PassThrough) Process(output *ring.AudioRingBuffer) {
	for {
		f, ok := p.input.Pop()
		if !ok {
			return
		}
		output.Push(f)
	}
}
