package capture

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

type fakeDevice struct {
	calls     []string
	startErr  error
	stopErr   error
	onSamples func(samples []float32)
}

func (f *fakeDevice) start(onSamples func(samples []float32)) error {
	f.calls = append(f.calls, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.onSamples = onSamples
	return nil
}

func (f *fakeDevice) stop() error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func (f *fakeDevice) uninit() error {
	f.calls = append(f.calls, "uninit")
	return nil
}

func (f *fakeDevice) close() error {
	f.calls = append(f.calls, "close")
	return nil
}

func decodeFrame(t *testing.T, frame []byte) []int16 {
	t.Helper()
	if len(frame)%2 != 0 {
		t.Fatalf("frame length = %d, want even", len(frame))
	}
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out
}

func TestFloatToInt16(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{2.5, 32767},
		{-3, -32768},
		{0.0001, 3},
	}
	for _, c := range cases {
		if got := floatToInt16(c.in); got != c.want {
			t.Errorf("floatToInt16(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFramesAssembledInOrder(t *testing.T) {
	dev := &fakeDevice{}
	r := newRecorder(Config{SampleRate: 16000, FrameSize: 4, QueueDepth: 4}, nil, dev)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	dev.onSamples([]float32{0, 0.5, -0.5, 1})
	dev.onSamples([]float32{-1, 0, 0, 0})
	dev.onSamples([]float32{0.25}) // partial frame, must not surface

	first := <-r.Frames()
	if got, want := decodeFrame(t, first), []int16{0, 16383, -16384, 32767}; !reflect.DeepEqual(got, want) {
		t.Fatalf("first frame = %v, want %v", got, want)
	}
	second := <-r.Frames()
	if got, want := decodeFrame(t, second), []int16{-32768, 0, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("second frame = %v, want %v", got, want)
	}

	select {
	case frame := <-r.Frames():
		t.Fatalf("unexpected frame %v from partial accumulator", frame)
	default:
	}
	r.Stop()
}

func TestFrameSpansCallbackBoundary(t *testing.T) {
	dev := &fakeDevice{}
	r := newRecorder(Config{FrameSize: 4, QueueDepth: 2}, nil, dev)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	dev.onSamples([]float32{0.5, 0.5})
	dev.onSamples([]float32{0.5, -1})

	frame := <-r.Frames()
	if got, want := decodeFrame(t, frame), []int16{16383, 16383, 16383, -32768}; !reflect.DeepEqual(got, want) {
		t.Fatalf("frame = %v, want %v", got, want)
	}
	r.Stop()
}

func TestOverflowDropsWithoutBlocking(t *testing.T) {
	dev := &fakeDevice{}
	r := newRecorder(Config{FrameSize: 2, QueueDepth: 1}, nil, dev)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	// Three full frames with nobody draining. Only the first fits.
	dev.onSamples([]float32{1, 1})
	dev.onSamples([]float32{-1, -1})
	dev.onSamples([]float32{0, 0})

	frame := <-r.Frames()
	if got, want := decodeFrame(t, frame), []int16{32767, 32767}; !reflect.DeepEqual(got, want) {
		t.Fatalf("surviving frame = %v, want %v", got, want)
	}
	select {
	case frame := <-r.Frames():
		t.Fatalf("queue depth 1 delivered extra frame %v", frame)
	default:
	}
	r.Stop()
}

func TestStopTeardownOrderAndIdempotence(t *testing.T) {
	dev := &fakeDevice{}
	r := newRecorder(Config{}, nil, dev)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	r.Stop()
	r.Stop()

	want := []string{"start", "stop", "uninit", "close"}
	if !reflect.DeepEqual(dev.calls, want) {
		t.Fatalf("device calls = %v, want %v", dev.calls, want)
	}
	if _, ok := <-r.Frames(); ok {
		t.Fatal("frames channel still open after Stop")
	}
}

func TestStopRunsAllStepsWhenOneFails(t *testing.T) {
	dev := &fakeDevice{stopErr: errors.New("device wedged")}
	r := newRecorder(Config{}, nil, dev)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	r.Stop()

	want := []string{"start", "stop", "uninit", "close"}
	if !reflect.DeepEqual(dev.calls, want) {
		t.Fatalf("device calls = %v, want %v", dev.calls, want)
	}
}

func TestStopBeforeStart(t *testing.T) {
	dev := &fakeDevice{}
	r := newRecorder(Config{}, nil, dev)

	r.Stop()

	if want := []string{"close"}; !reflect.DeepEqual(dev.calls, want) {
		t.Fatalf("device calls = %v, want %v", dev.calls, want)
	}
	if _, ok := <-r.Frames(); ok {
		t.Fatal("frames channel still open after Stop")
	}
}

func TestStartFailureLeavesRecorderStopped(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("mic denied")}
	r := newRecorder(Config{}, nil, dev)

	if err := r.Start(); err == nil {
		t.Fatal("Start() = nil, want error")
	}
	// A failed start must not mark the recorder started.
	if err := r.Start(); errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() = %v, want fresh attempt", err)
	}
}

func TestStartTwice(t *testing.T) {
	dev := &fakeDevice{}
	r := newRecorder(Config{}, nil, dev)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	r.Stop()
}
