package capture

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// malgoDevice drives the default capture device through miniaudio.
// Mono float32 at the configured rate, 20ms callback periods on a
// realtime-priority thread.
type malgoDevice struct {
	cfg       Config
	ctx       *malgo.AllocatedContext
	dev       *malgo.Device
	onSamples func([]float32)
	scratch   []float32
}

func newMalgoDevice(cfg Config) *malgoDevice {
	return &malgoDevice{cfg: cfg}
}

func (d *malgoDevice) start(onSamples func(samples []float32)) error {
	d.onSamples = onSamples

	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(d.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, frameCount uint32) {
			d.handleData(pInputSamples, frameCount)
		},
	}
	dev, err := malgo.InitDevice(ctx.Context, devCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	d.ctx = ctx
	d.dev = dev
	return nil
}

func (d *malgoDevice) handleData(pInput []byte, frameCount uint32) {
	n := int(frameCount)
	if len(pInput) < n*4 {
		n = len(pInput) / 4
	}
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	samples := d.scratch[:n]
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pInput[i*4:]))
	}
	d.onSamples(samples)
}

func (d *malgoDevice) stop() error {
	if d.dev == nil {
		return nil
	}
	return d.dev.Stop()
}

func (d *malgoDevice) uninit() error {
	if d.dev == nil {
		return nil
	}
	d.dev.Uninit()
	d.dev = nil
	return nil
}

func (d *malgoDevice) close() error {
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}
