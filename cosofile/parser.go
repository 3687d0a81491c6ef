package cosofile

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/quasilyte/coso/internal/cosodb"
)

const (
	headerSize           = 40
	instrumentRecordSize = 12
	sampleRecordSize     = 10

	supportedVersion = 1
	maxVoices        = 4
)

var magic = [4]byte{'C', 'O', 'S', 'O'}

type parser struct {
	// Data holds the song input data bytes.
	data []byte

	// Offset is our current position inside the data.
	offset int

	// Song holds the results of parsing.
	song *Song

	ops opArena

	// Per-program scratch buffers.
	scratchOps     []Op
	scratchOffsets []int

	config ParserConfig

	// These fields below are needed for better error reporting.
	stage         string
	stageIndex    int
	subStage      string
	subStageIndex int
}

type rawHeader struct {
	numVoices         int
	instrumentOffset  int
	numInstruments    int
	numSamples        int
	sampleTableOffset int
	programTable      int
	programEnd        int
	bankOffset        int
	bankLength        int
}

func newParser(config ParserConfig) *parser {
	p := &parser{
		config:         config,
		scratchOps:     make([]Op, 0, 256),
		scratchOffsets: make([]int, 0, 1024),
	}
	p.ops.init(1024)
	return p
}

func (p *parser) Parse(data []byte) (*Song, error) {
	p.data = data
	p.offset = 0
	p.song = &Song{}
	p.startStage("")
	err := p.parse()
	song := p.song
	p.song = nil
	p.data = nil
	if err != nil {
		return nil, err
	}
	return song, nil
}

func (p *parser) startStage(name string) {
	p.stage = name
	p.stageIndex = -1
	p.subStage = ""
	p.subStageIndex = -1
}

func (p *parser) startSubStage(name string) {
	p.subStage = name
	p.subStageIndex = -1
}

func (p *parser) formatStage() string {
	var b strings.Builder
	b.Grow(len(p.stage) + len(p.subStage) + 16)
	b.WriteString(p.stage)
	if p.stageIndex >= 0 {
		fmt.Fprintf(&b, "[%d]", p.stageIndex)
	}
	if p.subStage != "" {
		b.WriteByte('.')
		b.WriteString(p.subStage)
		if p.subStageIndex >= 0 {
			fmt.Fprintf(&b, "[%d]", p.subStageIndex)
		}
	}
	return b.String()
}

func (p *parser) errorf(kind error, format string, args ...any) *ParseError {
	text := fmt.Sprintf(format, args...)
	tag := p.formatStage()
	if tag != "" {
		text = tag + ": " + text
	}
	return &ParseError{
		Kind:    kind,
		Message: text,
		Offset:  p.offset,
	}
}

func (p *parser) malformedf(format string, args ...any) *ParseError {
	return p.errorf(ErrMalformedSong, format, args...)
}

func (p *parser) dataBytesRemaining() int {
	return len(p.data) - p.offset
}

func (p *parser) seek(offset int, what string) {
	if offset < 0 || offset > len(p.data) {
		panic(p.malformedf("%s offset %#x is outside of the %d bytes buffer", what, offset, len(p.data)))
	}
	p.offset = offset
}

// checkRange validates a [offset, offset+size) region before anything reads from it.
func (p *parser) checkRange(offset, size int, what string) {
	if offset < 0 || size < 0 || offset > len(p.data) || size > len(p.data)-offset {
		panic(p.malformedf("%s region %#x+%d is outside of the %d bytes buffer", what, offset, size, len(p.data)))
	}
}

func (p *parser) skip(l int, what string) {
	if p.dataBytesRemaining() < l {
		panic(p.malformedf("unexpected EOF while reading %s", what))
	}
	p.offset += l
}

func (p *parser) read(l int, what string) []byte {
	if p.dataBytesRemaining() < l {
		panic(p.malformedf("unexpected EOF while reading %s", what))
	}
	b := p.data[p.offset : p.offset+l]
	p.offset += l
	return b
}

func (p *parser) readDword(what string) uint32 {
	return binary.BigEndian.Uint32(p.read(4, what))
}

func (p *parser) readWord(what string) uint16 {
	return binary.BigEndian.Uint16(p.read(2, what))
}

func (p *parser) readByte(what string) uint8 {
	return p.read(1, what)[0]
}

func (p *parser) parse() (err error) {
	defer func() {
		rv := recover()
		if rv != nil {
			if panicErr, ok := rv.(*ParseError); ok {
				err = panicErr
			} else {
				panic(rv)
			}
		}
	}()

	p.parseSong()

	return err // See the deferred call above
}

func (p *parser) parseSong() {
	p.startStage("header")
	h := p.parseHeader()

	p.startStage("sample")
	p.parseSamples(h)

	p.startStage("instrument")
	p.parseInstruments(h)

	p.startStage("program")
	p.parsePrograms(h)
}

func (p *parser) parseHeader() rawHeader {
	var h rawHeader

	id := p.read(4, "magic")
	if string(id) != string(magic[:]) {
		panic(p.malformedf("unexpected magic: %q", id))
	}

	p.song.Version = int(p.readByte("version"))
	if p.song.Version != supportedVersion {
		panic(p.malformedf("unsupported version %d", p.song.Version))
	}

	h.numVoices = int(p.readByte("voice count"))
	if h.numVoices == 0 || h.numVoices > maxVoices {
		panic(p.malformedf("invalid voice count: %d", h.numVoices))
	}

	p.song.TickRate = int(p.readWord("tick rate"))
	if p.song.TickRate == 0 {
		p.song.TickRate = cosodb.DefaultTickRate
	}

	h.instrumentOffset = int(p.readDword("instrument table offset"))
	h.numInstruments = int(p.readWord("instrument count"))
	h.numSamples = int(p.readWord("sample count"))
	h.sampleTableOffset = int(p.readDword("sample table offset"))
	h.programTable = int(p.readDword("program table offset"))
	h.programEnd = int(p.readDword("program region end"))
	h.bankOffset = int(p.readDword("sample bank offset"))
	h.bankLength = int(p.readDword("sample bank length"))
	p.skip(4, "reserved")

	if h.numInstruments == 0 {
		panic(p.malformedf("empty instrument table"))
	}
	if h.numSamples == 0 {
		panic(p.malformedf("empty sample table"))
	}

	p.checkRange(h.instrumentOffset, h.numInstruments*instrumentRecordSize, "instrument table")
	p.checkRange(h.sampleTableOffset, h.numSamples*sampleRecordSize, "sample table")
	p.checkRange(h.programTable, h.numVoices*4, "program table")
	p.checkRange(h.bankOffset, h.bankLength, "sample bank")
	if h.programEnd > len(p.data) {
		panic(p.malformedf("program region end %#x is outside of the %d bytes buffer", h.programEnd, len(p.data)))
	}

	return h
}

func (p *parser) parseSamples(h rawHeader) {
	bank := p.data[h.bankOffset : h.bankOffset+h.bankLength]
	p.song.SampleBank = make([]int8, len(bank))
	for i, b := range bank {
		p.song.SampleBank[i] = int8(b)
	}

	p.seek(h.sampleTableOffset, "sample table")
	p.song.Samples = make([]SampleData, h.numSamples)
	for i := range p.song.Samples {
		p.stageIndex = i
		s := &p.song.Samples[i]
		s.Offset = int(p.readDword("sample start"))
		s.Length = int(p.readWord("sample length")) << 1
		s.LoopStart = int(p.readWord("sample loop start"))
		s.LoopLength = int(p.readWord("sample loop length")) << 1

		if s.Offset > h.bankLength || s.Length > h.bankLength-s.Offset {
			panic(p.malformedf("sample %#x+%d is outside of the %d bytes sample bank", s.Offset, s.Length, h.bankLength))
		}
		if s.HasLoop() && s.LoopEnd() > s.Length {
			panic(p.malformedf("loop %d+%d exceeds the sample length %d", s.LoopStart, s.LoopLength, s.Length))
		}
	}
}

func (p *parser) parseInstruments(h rawHeader) {
	p.seek(h.instrumentOffset, "instrument table")
	p.song.Instruments = make([]Instrument, h.numInstruments)
	for i := range p.song.Instruments {
		p.stageIndex = i
		inst := &p.song.Instruments[i]
		inst.Sample = int(p.readByte("instrument sample"))
		inst.Volume = int(p.readByte("instrument volume"))
		inst.Attack = int(p.readByte("attack"))
		inst.Decay = int(p.readByte("decay"))
		inst.Sustain = int(p.readByte("sustain"))
		inst.Release = int(p.readByte("release"))
		inst.VibratoDelay = int(p.readByte("vibrato delay"))
		inst.VibratoSpeed = int(p.readByte("vibrato speed"))
		inst.VibratoDepth = int(p.readByte("vibrato depth"))
		inst.Arpeggio[0] = int8(p.readByte("arpeggio a"))
		inst.Arpeggio[1] = int8(p.readByte("arpeggio b"))
		inst.Transpose = int8(p.readByte("transpose"))

		if inst.Sample >= h.numSamples {
			panic(p.malformedf("sample id %d is out of range (%d samples)", inst.Sample, h.numSamples))
		}
		if inst.Volume > cosodb.MaxVolume {
			inst.Volume = cosodb.MaxVolume
		}
		if inst.Sustain > cosodb.MaxVolume {
			inst.Sustain = cosodb.MaxVolume
		}
	}
}

func (p *parser) parsePrograms(h rawHeader) {
	p.seek(h.programTable, "program table")
	starts := make([]int, h.numVoices)
	for i := range starts {
		p.stageIndex = i
		starts[i] = int(p.readDword("program start"))
		if starts[i] > h.programEnd {
			panic(p.malformedf("program start %#x is past the program region end %#x", starts[i], h.programEnd))
		}
	}

	p.song.Voices = make([]VoiceProgram, h.numVoices)
	for i, start := range starts {
		p.stageIndex = i
		// A program runs until the next program (or the region end).
		// Voices are allowed to share the same program.
		end := h.programEnd
		for _, other := range starts {
			if other > start && other < end {
				end = other
			}
		}
		p.song.Voices[i] = p.parseProgram(start, end)
	}
}

func (p *parser) parseProgram(start, end int) VoiceProgram {
	p.seek(start, "program")

	ops := p.scratchOps[:0]
	offsets := p.scratchOffsets[:0]
	for i := 0; i < end-start; i++ {
		offsets = append(offsets, -1)
	}

	p.startSubStage("op")
	terminated := false
	numLoops := 0
	for p.offset < end {
		p.subStageIndex = len(ops)
		relOffset := p.offset - start
		b := p.data[p.offset]
		kind, numOperands, ok := decodeOpByte(b)
		if !ok {
			panic(p.malformedf("unknown op-code %#02x", b))
		}
		if p.offset+1+numOperands > end {
			panic(p.errorf(ErrTruncatedProgram, "%s operands cross the program boundary", kind))
		}
		p.offset++

		op := Op{Kind: kind, Offset: relOffset}
		switch kind {
		case OpSetNote, OpSetVolume, OpSetInstrument, OpSetSample, OpWait, OpChannelVolume:
			op.Arg = int(p.readByte(kind.String()))
		case OpSlide:
			op.Arg = int(p.readByte("slide sample"))
			op.Slide = p.readSlideWindow(op.Arg)
		case OpPortamento:
			op.Arg = int(int16(p.readWord("portamento delta")))
		case OpVibrato:
			op.Arg = int(p.readByte("vibrato speed"))
			op.Arg2 = int(p.readByte("vibrato depth"))
		case OpArpeggio:
			op.Arg = int(int8(p.readByte("arpeggio a")))
			op.Arg2 = int(int8(p.readByte("arpeggio b")))
		case OpJump:
			op.Arg = int(p.readWord("jump target"))
		case OpLoop:
			op.Arg2 = int(p.readByte("loop count"))
			op.Arg = int(p.readWord("loop target"))
			op.Slot = numLoops
			numLoops++
			if numLoops > MaxLoopSlots {
				panic(p.malformedf("too many counted loops (max is %d)", MaxLoopSlots))
			}
		}
		p.checkOpReference(op)

		offsets[relOffset] = len(ops)
		ops = append(ops, op)
		if kind == OpEnd {
			terminated = true
			break
		}
	}
	if !terminated {
		panic(p.errorf(ErrTruncatedProgram, "no end op-code before the region end %#x", end))
	}
	codeLen := p.offset - start

	// Bind byte offsets to the op indexes.
	for i := range ops {
		op := &ops[i]
		if !op.Kind.IsJump() {
			continue
		}
		p.subStageIndex = i
		if op.Arg >= codeLen || offsets[op.Arg] == -1 {
			panic(p.malformedf("%s target %#x is not an op boundary", op.Kind, op.Arg))
		}
		op.Arg = offsets[op.Arg]
	}

	prog := VoiceProgram{
		Ops:          p.ops.alloc(len(ops)),
		Code:         make([]byte, codeLen),
		NumLoopSlots: numLoops,
	}
	copy(prog.Ops, ops)
	copy(prog.Code, p.data[start:start+codeLen])

	p.scratchOps = ops[:0]
	p.scratchOffsets = offsets[:0]
	return prog
}

func (p *parser) readSlideWindow(sampleID int) SlideWindow {
	var w SlideWindow
	start := p.readWord("slide start")
	w.Length = int(p.readWord("slide length")) << 1
	w.Delta = int(int16(p.readWord("slide delta"))) << 1
	w.Delay = int(p.readByte("slide delay"))
	w.Start = SlideFromEnd
	if start != 0xffff {
		w.Start = int(start) << 1
	}

	if w.Length == 0 {
		panic(p.malformedf("empty slide window"))
	}
	// An unknown sample is a reference problem, not a malformed window.
	if sampleID < len(p.song.Samples) {
		if err := w.Validate(p.song.Samples[sampleID].Length); err != nil {
			panic(p.malformedf("%v", err))
		}
	}
	return w
}

func (p *parser) checkOpReference(op Op) {
	if !p.config.StrictReferences {
		return
	}
	switch op.Kind {
	case OpSetInstrument:
		if op.Arg >= len(p.song.Instruments) {
			panic(p.errorf(ErrBadReference, "instrument id %d is out of range (%d instruments)", op.Arg, len(p.song.Instruments)))
		}
	case OpSetSample, OpSlide:
		if op.Arg >= len(p.song.Samples) {
			panic(p.errorf(ErrBadReference, "sample id %d is out of range (%d samples)", op.Arg, len(p.song.Samples)))
		}
	}
}
