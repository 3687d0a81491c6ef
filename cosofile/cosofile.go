package cosofile

import (
	"fmt"
)

// Song is a parsed COSO song.
// It's immutable after parsing and can be shared between goroutines.
type Song struct {
	Version int

	// TickRate is the replay interrupt rate in Hz.
	TickRate int

	Voices []VoiceProgram

	Instruments []Instrument

	Samples []SampleData

	// SampleBank is the raw signed 8-bit PCM that all samples point into.
	SampleBank []int8
}

// VoiceProgram is a single voice op-code stream.
//
// Jump and loop targets are indexes into Ops, so the program can be
// executed without ever re-reading Code.
type VoiceProgram struct {
	Ops []Op

	// Code is the raw op-code stream this program was decoded from.
	Code []byte

	// NumLoopSlots is the number of counted loops in this program.
	// Each OpLoop has its own Slot in [0, NumLoopSlots).
	NumLoopSlots int
}

// MaxLoopSlots is the maximum number of counted loops inside of a single program.
const MaxLoopSlots = 8

// Op is a decoded voice program instruction.
type Op struct {
	Kind OpKind

	// Arg and Arg2 are operand values; their meaning depends on Kind.
	// For jumps, Arg is the target op index.
	Arg  int
	Arg2 int

	// Offset is the op byte offset inside the program.
	Offset int

	// Slot is a loop counter slot (OpLoop only).
	Slot int

	// Slide is the sliding sample window (OpSlide only).
	Slide SlideWindow
}

// SlideWindow describes a sliding sample: a loop window that moves
// through the sample by Delta bytes every Delay+1 ticks.
// The window stops once it can't move inside the sample anymore.
type SlideWindow struct {
	// Start is relative to the sample start.
	// SlideFromEnd places the window at the sample end.
	Start int

	// Length, Start and Delta are in bytes.
	Length int
	Delta  int

	Delay int
}

// SlideFromEnd is a SlideWindow.Start value that aligns the window
// with the sample end.
const SlideFromEnd = -1

// Validate reports whether the window fits a sample of the given length.
func (w SlideWindow) Validate(sampleLength int) error {
	if w.Length <= 0 || w.Length > sampleLength {
		return fmt.Errorf("slide window length %d doesn't fit the sample length %d", w.Length, sampleLength)
	}
	if w.Start != SlideFromEnd && (w.Start < 0 || w.Start+w.Length > sampleLength) {
		return fmt.Errorf("slide window %d+%d exceeds the sample length %d", w.Start, w.Length, sampleLength)
	}
	return nil
}

// Bounds resolves the window start inside a sample of the given length.
// The window is clamped to fit the sample.
func (w SlideWindow) Bounds(sampleLength int) (start, length int) {
	length = w.Length
	if length > sampleLength {
		length = sampleLength
	}
	start = w.Start
	if start == SlideFromEnd || start > sampleLength-length {
		start = sampleLength - length
	}
	if start < 0 {
		start = 0
	}
	return start, length
}

// Instrument is a fixed-size instrument table record.
type Instrument struct {
	Sample int

	// Volume is the default volume, 0-64.
	Volume int

	// Envelope rates are in volume units per tick.
	// A zero Attack means "start at full level".
	Attack  int
	Decay   int
	Sustain int
	Release int

	VibratoDelay int
	VibratoSpeed int
	VibratoDepth int

	Arpeggio [2]int8

	Transpose int8
}

// HasEnvelope reports whether the instrument shapes its volume over time.
func (inst *Instrument) HasEnvelope() bool {
	return inst.Attack != 0 || inst.Decay != 0 || inst.Release != 0
}

// SampleData describes a window into Song.SampleBank.
type SampleData struct {
	// Offset and Length are in bytes (one byte per sample point).
	Offset int
	Length int

	// LoopStart is relative to Offset.
	LoopStart  int
	LoopLength int
}

// HasLoop reports whether the sample repeats its loop region after the first pass.
func (s *SampleData) HasLoop() bool {
	return s.LoopLength > 2
}

// LoopEnd is an exclusive loop region end, relative to Offset.
func (s *SampleData) LoopEnd() int {
	return s.LoopStart + s.LoopLength
}

// PCM returns the sample points without copying them.
func (song *Song) PCM(sampleID int) []int8 {
	s := &song.Samples[sampleID]
	return song.SampleBank[s.Offset : s.Offset+s.Length]
}

// ParserConfig configures the song parsing.
type ParserConfig struct {
	// StrictReferences makes the parser resolve instrument and sample
	// operands at load time instead of reporting them during the playback.
	StrictReferences bool
}

// Parser decodes COSO songs.
// It can be reused to parse several songs.
type Parser struct {
	p *parser
}

func NewParser(config ParserConfig) *Parser {
	return &Parser{p: newParser(config)}
}

// ParseFromBytes decodes a single song.
// data is expected to start with the song header; all offsets
// are interpreted relative to data[0].
//
// The returned song does not alias data.
//
// A non-nil error is always a *ParseError.
func (p *Parser) ParseFromBytes(data []byte) (*Song, error) {
	return p.p.Parse(data)
}

// Parse is a ParseFromBytes shorthand that uses the default config.
func Parse(data []byte) (*Song, error) {
	return NewParser(ParserConfig{}).ParseFromBytes(data)
}
