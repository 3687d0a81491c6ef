package coso

import (
	"fmt"
	"sync"

	"github.com/quasilyte/coso/cosofile"
	"github.com/quasilyte/coso/internal/cosodb"
)

// Synthesizer can be used to preview individual instruments and samples of a song.
//
// It's a single-voice stream that plays a generated program
// instead of the song voice programs.
//
// Synthesizer methods can be called from any goroutine,
// so the preview can be changed while an audio player reads it.
type Synthesizer struct {
	mu     sync.Mutex
	stream *Stream
	config LoadSongConfig

	// song shares the tables with the original song.
	song cosofile.Song
}

// NewSynthesizer prepares the song instruments and samples for the preview.
// The song voice programs are not used.
func NewSynthesizer(song *cosofile.Song, config LoadSongConfig) *Synthesizer {
	synth := &Synthesizer{
		stream: NewStream(),
		config: config,
		song: cosofile.Song{
			Version:     song.Version,
			TickRate:    song.TickRate,
			Instruments: song.Instruments,
			Samples:     song.Samples,
			SampleBank:  song.SampleBank,
		},
	}
	return synth
}

// Stream returns the stream that renders the current preview.
// It's valid until the next PlayInstrument or PlaySample call.
// The stream methods are not synchronized with the synthesizer.
func (s *Synthesizer) Stream() *Stream { return s.stream }

// SetVolume adjusts the global volume scaling for the underlying stream.
func (s *Synthesizer) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream.SetVolume(v)
}

// PlayInstrument prepares the instrument to be played at the specified note.
//
// The note is held for the given number of ticks, then it's released.
// The stream ends after the instrument envelope is over.
func (s *Synthesizer) PlayInstrument(inst, note, ticks int) error {
	if inst < 0 || inst >= len(s.song.Instruments) {
		return fmt.Errorf("instrument %d: %w", inst, cosofile.ErrBadReference)
	}
	ops := []cosofile.Op{
		{Kind: cosofile.OpSetInstrument, Arg: inst},
		{Kind: cosofile.OpSetNote, Arg: note},
	}
	ops = appendWait(ops, ticks)
	if release := s.song.Instruments[inst].Release; release != 0 {
		ops = append(ops, cosofile.Op{Kind: cosofile.OpNoteOff})
		ops = appendWait(ops, (cosodb.MaxVolume+release-1)/release)
	}
	ops = append(ops, cosofile.Op{Kind: cosofile.OpEnd})
	return s.load(ops)
}

// PlaySample plays a raw sample at the specified note and volume.
// Looped samples are played for the given number of ticks.
func (s *Synthesizer) PlaySample(sampleID, note, volume, ticks int) error {
	if sampleID < 0 || sampleID >= len(s.song.Samples) {
		return fmt.Errorf("sample %d: %w", sampleID, cosofile.ErrBadReference)
	}
	ops := []cosofile.Op{
		{Kind: cosofile.OpSetSample, Arg: sampleID},
		{Kind: cosofile.OpSetVolume, Arg: volume},
		{Kind: cosofile.OpSetNote, Arg: note},
	}
	ops = appendWait(ops, ticks)
	ops = append(ops, cosofile.Op{Kind: cosofile.OpEnd})
	return s.load(ops)
}

func (s *Synthesizer) load(ops []cosofile.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.song.Voices = []cosofile.VoiceProgram{{Ops: ops}}
	return s.stream.LoadSong(&s.song, s.config)
}

func (s *Synthesizer) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Read(b)
}

func (s *Synthesizer) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream.Rewind()
}

func (s *Synthesizer) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Seek(offset, whence)
}

// appendWait splits a long wait into several wait ops
// as a single op can only wait for 255 ticks.
func appendWait(ops []cosofile.Op, ticks int) []cosofile.Op {
	ticks = clampMin(ticks, 1)
	for ticks > 0 {
		n := clampMax(ticks, 255)
		ops = append(ops, cosofile.Op{Kind: cosofile.OpWait, Arg: n})
		ticks -= n
	}
	return ops
}
