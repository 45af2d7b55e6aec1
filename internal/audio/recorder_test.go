package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestRecorderWritesFinalizedWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "recordings")
	r, err := NewRecorder(dir, 16000)
	if err != nil {
		t.Fatalf("NewRecorder() = %v", err)
	}

	frameA := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	frameB := []byte{5, 0, 6, 0}
	if err := r.WriteFrame(frameA); err != nil {
		t.Fatalf("WriteFrame(A) = %v", err)
	}
	if err := r.WriteFrame(frameB); err != nil {
		t.Fatalf("WriteFrame(B) = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	raw, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	payload := append(append([]byte(nil), frameA...), frameB...)
	if got, want := len(raw), 44+len(payload); got != want {
		t.Fatalf("file size = %d, want %d", got, want)
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatalf("bad container magic %q %q", raw[0:4], raw[8:12])
	}
	if string(raw[12:16]) != "fmt " || string(raw[36:40]) != "data" {
		t.Fatalf("bad chunk magic %q %q", raw[12:16], raw[36:40])
	}
	if got := binary.LittleEndian.Uint32(raw[4:8]); got != uint32(36+len(payload)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(payload))
	}
	if got := binary.LittleEndian.Uint32(raw[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(raw[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != uint32(len(payload)) {
		t.Errorf("data size = %d, want %d", got, len(payload))
	}
	if !bytes.Equal(raw[44:], payload) {
		t.Error("pcm payload does not match written frames")
	}
}

func TestRecorderCloseIdempotentAndLateFramesDropped(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), 16000)
	if err != nil {
		t.Fatalf("NewRecorder() = %v", err)
	}
	if err := r.WriteFrame([]byte{9, 0}); err != nil {
		t.Fatalf("WriteFrame() = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if err := r.WriteFrame([]byte{1, 0}); err != nil {
		t.Fatalf("WriteFrame after Close = %v, want silent drop", err)
	}

	raw, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if got := binary.LittleEndian.Uint32(raw[40:44]); got != 2 {
		t.Errorf("data size = %d, want 2", got)
	}
}

func TestWriteWAVHeaderByteRate(t *testing.T) {
	var buf bytes.Buffer
	if err := writeWAVHeader(&buf, 16000, 0); err != nil {
		t.Fatalf("writeWAVHeader() = %v", err)
	}
	raw := buf.Bytes()
	if len(raw) != 44 {
		t.Fatalf("header length = %d, want 44", len(raw))
	}
	if got := binary.LittleEndian.Uint32(raw[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(raw[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(raw[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
}
