package playback

import (
	"bytes"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes complete MP3 chunks as produced by the agent's
// speech synthesis. go-mp3 always emits 16-bit stereo PCM at the
// stream's native rate.
type MP3Decoder struct{}

func (MP3Decoder) Decode(chunk []byte) ([]byte, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(chunk))
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 header: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 frames: %w", err)
	}
	return pcm, dec.SampleRate(), nil
}
