package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gordonklaus/portaudio"
)

// captureStream abstracts a PortAudio input stream so tests can inject a
// fake in place of a real device.
type captureStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

type paCaptureStream struct{ *portaudio.Stream }

// Device captures live audio from a PortAudio input device at the
// configured sample rate and channel count. On open failure it retries
// with exponential backoff (100ms -> 5s) and reports Connected=false in the
// meantime. Every open, start or read failure is treated as recoverable:
// no error stops the producer; it runs until Stop or context cancellation.
type Device struct {
	base

	deviceIndex int // -1 selects the default input device
	sampleRate  float64
	channels    int
	frameLen    int // samples-per-channel per tick

	openStream func(deviceIndex int, sampleRate float64, channels, frameLen int) (captureStream, []int16, error)
}

// NewDevice constructs a capture producer. frameDuration is the tick
// cadence (100ms default).
func NewDevice(name string, deviceIndex int, sampleRate float64, channels int, frameDuration time.Duration) *Device {
	if frameDuration <= 0 {
		frameDuration = 100 * time.Millisecond
	}
	frameLen := int(sampleRate * frameDuration.Seconds())
	return &Device{
		base:        newBase(name),
		deviceIndex: deviceIndex,
		sampleRate:  sampleRate,
		channels:    channels,
		frameLen:    frameLen,
		openStream:  openPortAudioStream,
	}
}

func openPortAudioStream(deviceIndex int, sampleRate float64, channels, frameLen int) (captureStream, []int16, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("portaudio initialize: %w", err)
	}
	buf := make([]int16, frameLen*channels)

	var dev *portaudio.DeviceInfo
	if deviceIndex >= 0 {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, nil, err
		}
		if deviceIndex >= len(devices) {
			return nil, nil, fmt.Errorf("device index %d out of range", deviceIndex)
		}
		dev = devices[deviceIndex]
	} else {
		d, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, nil, err
		}
		dev = d
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = sampleRate
	params.FramesPerBuffer = frameLen

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, fmt.Errorf("open stream: %w", err)
	}
	return &paCaptureStream{stream}, buf, nil
}

func (d *Device) Start(ctx context.Context) error {
	if d.ring == nil {
		return fmt.Errorf("producer %s: no ring buffer attached", d.name)
	}
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go d.loopSource(ctx)
	return nil
}

func (d *Device) Stop() { d.stopAndJoin() }

func (d *Device) loopSource(ctx context.Context) {
	defer d.wg.Done()

	bo := newBackOff()
	for {
		select {
		case <-ctx.Done():
			d.running.Store(false)
			return
		case <-d.stopCh:
			return
		default:
		}

		stream, buf, err := d.openStream(d.deviceIndex, d.sampleRate, d.channels, d.frameLen)
		if err != nil {
			d.connected.Store(false)
			d.errors.Add(1)
			wait := bo.NextBackOff()
			d.log.Warn("open capture device", "err", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-d.stopCh:
				return
			case <-ctx.Done():
				d.running.Store(false)
				return
			}
		}

		bo.Reset()
		d.connected.Store(true)
		if err := stream.Start(); err != nil {
			d.connected.Store(false)
			d.errors.Add(1)
			stream.Close()
			continue
		}

		d.readLoop(ctx, stream, buf)
		stream.Stop()
		stream.Close()
		d.connected.Store(false)
	}
}

func (d *Device) readLoop(ctx context.Context, stream captureStream, buf []int16) {
	for {
		select {
		case <-ctx.Done():
			d.running.Store(false)
			return
		case <-d.stopCh:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			d.errors.Add(1)
			d.log.Warn("capture read", "err", err)
			return
		}
		samples := append([]int16(nil), buf...)
		d.pushFrame(samples, uint32(d.sampleRate), uint16(d.channels))
	}
}
