package cososink

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV is a sink that encodes the chunks into a WAV stream.
//
// The WAV header can only be completed when the size is known,
// so Close must be called after the playback is over.
type WAV struct {
	enc    *wav.Encoder
	format Format
	buf    *audio.IntBuffer
}

// NewWAV creates a WAV sink that writes to w.
// w is not closed by the sink.
func NewWAV(w io.WriteSeeker, format Format) (*WAV, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}
	const pcmFormat = 1
	enc := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, pcmFormat)
	return &WAV{
		enc:    enc,
		format: format,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// WriteChunk implements coso.Sink.
func (s *WAV) WriteChunk(chunk []byte) error {
	n := len(chunk) / s.format.bytesPerSample()
	if cap(s.buf.Data) < n {
		s.buf.Data = make([]int, n)
	}
	data := s.buf.Data[:n]
	if s.format.BitDepth == 8 {
		// The WAV 8-bit samples are unsigned, just like our 8-bit PCM.
		for i, b := range chunk {
			data[i] = int(b)
		}
	} else {
		for i := range data {
			data[i] = int(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
		}
	}
	s.buf.Data = data
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("wav: %w", err)
	}
	return nil
}

// Close finalizes the WAV header.
func (s *WAV) Close() error {
	if err := s.enc.Close(); err != nil {
		return fmt.Errorf("wav: %w", err)
	}
	return nil
}
