package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder tees captured PCM16LE mono frames into a WAV file. The
// header is written with zero sizes up front and patched on Close,
// since the call length is unknown until it ends.
type Recorder struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	dataSize uint32
	closed   bool
}

func NewRecorder(dir string, sampleRate int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record dir: %w", err)
	}
	path := filepath.Join(dir, "call-"+time.Now().UTC().Format("20060102-150405.000")+".wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	if err := writeWAVHeader(f, sampleRate, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("recording header: %w", err)
	}
	return &Recorder{f: f, path: path}, nil
}

func (r *Recorder) Path() string { return r.path }

// WriteFrame appends one captured frame. Frames arriving after Close
// are dropped.
func (r *Recorder) WriteFrame(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	n, err := r.f.Write(pcm)
	r.dataSize += uint32(n)
	if err != nil {
		return fmt.Errorf("record frame: %w", err)
	}
	return nil
}

// Close patches the RIFF and data chunk sizes and closes the file.
// Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if _, err := r.f.Seek(riffSizeOffset, io.SeekStart); err != nil {
		r.f.Close()
		return fmt.Errorf("finalize recording: %w", err)
	}
	if err := binary.Write(r.f, binary.LittleEndian, 36+r.dataSize); err != nil {
		r.f.Close()
		return fmt.Errorf("finalize recording: %w", err)
	}
	if _, err := r.f.Seek(dataSizeOffset, io.SeekStart); err != nil {
		r.f.Close()
		return fmt.Errorf("finalize recording: %w", err)
	}
	if err := binary.Write(r.f, binary.LittleEndian, r.dataSize); err != nil {
		r.f.Close()
		return fmt.Errorf("finalize recording: %w", err)
	}
	return r.f.Close()
}
