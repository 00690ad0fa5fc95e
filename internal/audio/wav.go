// Package audio provides WAV inspection and reference-clip trimming.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Reference-audio trim policy: clips longer than the threshold are reduced
// to a window centered on the clip, which keeps voice-cloning conditioning
// stable. This is a normalization policy, not a correctness requirement.
const (
	maxReferenceSeconds = 10.0
	trimWindowSeconds   = 8.0
)

// ErrInvalidWAV indicates the payload is not a decodable WAV file.
var ErrInvalidWAV = errors.New("invalid WAV data")

// Duration returns the playback length of a WAV payload in seconds.
func Duration(wavData []byte) (float64, error) {
	decoder := wav.NewDecoder(bytes.NewReader(wavData))
	if !decoder.IsValidFile() {
		return 0, ErrInvalidWAV
	}

	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV duration: %w", err)
	}

	return duration.Seconds(), nil
}

// TrimReference bounds a reference clip to the trim window when it exceeds
// the duration threshold. It returns the (possibly re-encoded) audio and
// whether trimming occurred. Payloads at or under the threshold pass through
// untouched.
func TrimReference(wavData []byte) ([]byte, bool, error) {
	decoder := wav.NewDecoder(bytes.NewReader(wavData))
	if !decoder.IsValidFile() {
		return nil, false, ErrInvalidWAV
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode WAV samples: %w", err)
	}

	sampleRate := buf.Format.SampleRate
	channels := buf.Format.NumChannels

	if sampleRate <= 0 || channels <= 0 {
		return nil, false, ErrInvalidWAV
	}

	frames := len(buf.Data) / channels
	duration := float64(frames) / float64(sampleRate)

	if duration <= maxReferenceSeconds {
		return wavData, false, nil
	}

	windowFrames := int(trimWindowSeconds * float64(sampleRate))
	startFrame := (frames - windowFrames) / 2

	window := &gaudio.IntBuffer{
		Format:         buf.Format,
		Data:           buf.Data[startFrame*channels : (startFrame+windowFrames)*channels],
		SourceBitDepth: buf.SourceBitDepth,
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}

	encoded, err := encodeWAV(window, bitDepth)
	if err != nil {
		return nil, false, err
	}

	return encoded, true, nil
}

func encodeWAV(buf *gaudio.IntBuffer, bitDepth int) ([]byte, error) {
	sink := &seekableBuffer{}

	encoder := wav.NewEncoder(sink, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)

	err := encoder.Write(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAV samples: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize WAV encoding: %w", err)
	}

	return sink.data, nil
}

// seekableBuffer is the minimal in-memory io.WriteSeeker the WAV encoder
// needs to patch up chunk sizes in the header.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}

	copy(b.data[b.pos:], p)
	b.pos += len(p)

	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int

	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, errors.New("unsupported whence")
	}

	if next < 0 {
		return 0, errors.New("negative seek position")
	}

	b.pos = next

	return int64(next), nil
}
