package cosofile

// OpKind identifies a voice program instruction.
type OpKind uint8

const (
	OpNone OpKind = iota

	// Encoding: 0x80 note
	// Arg: CoSo period table index
	OpSetNote

	// Encoding: 0x81 volume
	// Arg: volume level (0-64)
	OpSetVolume

	// Encoding: 0x82 instrument
	// Arg: instrument id
	OpSetInstrument

	// Encoding: 0x83 sample
	// Arg: sample id
	OpSetSample

	// Encoding: 0x84 delta:i16
	// Arg: per-tick period delta in 1/1024 units
	OpPortamento

	// Encoding: 0x85 speed depth
	// Arg: speed, Arg2: depth
	OpVibrato

	// Encoding: 0x86 a:i8 b:i8
	// Arg and Arg2: semitone offsets
	OpArpeggio

	// Encoding: 0x87 ticks
	OpWait

	// Encoding: 0x88 target:u16
	// Arg: target op index (the encoded value is a byte offset)
	OpJump

	// Encoding: 0x89 count target:u16
	// Arg: target op index, Arg2: repeat count
	OpLoop

	// Encoding: 0x8A
	OpResetEffects

	// Encoding: 0x8B
	OpNoteOff

	// Encoding: 0x8C sample start:u16 length:u16 delta:i16 delay
	// Arg: sample id, Slide: the window parameters
	// (start, length and delta are encoded in words; a start of 0xFFFF
	// places the window at the sample end)
	OpSlide

	// Encoding: 0x8D volume
	// Arg: voice volume multiplier (0-64), kept across instrument changes
	OpChannelVolume

	// Encoding: 0xFF
	OpEnd
)

// Raw op-code bytes.
const (
	ByteSetNote       = 0x80
	ByteSetVolume     = 0x81
	ByteSetInstrument = 0x82
	ByteSetSample     = 0x83
	BytePortamento    = 0x84
	ByteVibrato       = 0x85
	ByteArpeggio      = 0x86
	ByteWait          = 0x87
	ByteJump          = 0x88
	ByteLoop          = 0x89
	ByteResetEffects  = 0x8A
	ByteNoteOff       = 0x8B
	ByteSlide         = 0x8C
	ByteChannelVolume = 0x8D
	ByteEnd           = 0xFF
)

type opInfo struct {
	kind     OpKind
	operands int
	name     string
}

var opTable = map[uint8]opInfo{
	ByteSetNote:       {OpSetNote, 1, "set-note"},
	ByteSetVolume:     {OpSetVolume, 1, "set-volume"},
	ByteSetInstrument: {OpSetInstrument, 1, "set-instrument"},
	ByteSetSample:     {OpSetSample, 1, "set-sample"},
	BytePortamento:    {OpPortamento, 2, "portamento"},
	ByteVibrato:       {OpVibrato, 2, "vibrato"},
	ByteArpeggio:      {OpArpeggio, 2, "arpeggio"},
	ByteWait:          {OpWait, 1, "wait"},
	ByteJump:          {OpJump, 2, "jump"},
	ByteLoop:          {OpLoop, 3, "loop"},
	ByteResetEffects:  {OpResetEffects, 0, "reset-effects"},
	ByteNoteOff:       {OpNoteOff, 0, "note-off"},
	ByteSlide:         {OpSlide, 8, "slide"},
	ByteChannelVolume: {OpChannelVolume, 1, "channel-volume"},
	ByteEnd:           {OpEnd, 0, "end"},
}

var kindBytes = func() map[OpKind]uint8 {
	m := make(map[OpKind]uint8, len(opTable))
	for b, info := range opTable {
		m[info.kind] = b
	}
	return m
}()

func decodeOpByte(b uint8) (kind OpKind, operands int, ok bool) {
	info, ok := opTable[b]
	return info.kind, info.operands, ok
}

func encodeOpKind(k OpKind) (b uint8, operands int, ok bool) {
	b, ok = kindBytes[k]
	if !ok {
		return 0, 0, false
	}
	return b, opTable[b].operands, true
}

func (k OpKind) String() string {
	if b, ok := kindBytes[k]; ok {
		return opTable[b].name
	}
	return "none"
}

// IsJump reports whether the op can transfer control to another op.
func (k OpKind) IsJump() bool { return k == OpJump || k == OpLoop }

// ConsumesTime reports whether the op ends the current tick.
func (k OpKind) ConsumesTime() bool { return k == OpWait || k == OpEnd }
