package cosofile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Encode serializes the song into its binary form.
//
// Programs are encoded from their Ops (Code is ignored),
// so an edited song can be written back without touching the raw stream.
// Jump and loop targets are op indexes, as they are after parsing.
func Encode(song *Song) ([]byte, error) {
	if len(song.Voices) == 0 || len(song.Voices) > maxVoices {
		return nil, fmt.Errorf("invalid voice count: %d", len(song.Voices))
	}
	if len(song.Instruments) == 0 || len(song.Instruments) > 0xffff {
		return nil, fmt.Errorf("invalid instrument count: %d", len(song.Instruments))
	}
	if len(song.Samples) == 0 || len(song.Samples) > 0xffff {
		return nil, fmt.Errorf("invalid sample count: %d", len(song.Samples))
	}

	programs := make([][]byte, len(song.Voices))
	programsSize := 0
	for i := range song.Voices {
		code, err := encodeProgram(&song.Voices[i])
		if err != nil {
			return nil, fmt.Errorf("program[%d]: %w", i, err)
		}
		programs[i] = code
		programsSize += len(code)
	}

	instOffset := headerSize
	sampleTableOffset := instOffset + len(song.Instruments)*instrumentRecordSize
	programTable := sampleTableOffset + len(song.Samples)*sampleRecordSize
	programStart := programTable + len(song.Voices)*4
	programEnd := programStart + programsSize
	bankOffset := programEnd
	total := bankOffset + len(song.SampleBank)

	buf := make([]byte, total)
	copy(buf, magic[:])
	version := song.Version
	if version == 0 {
		version = supportedVersion
	}
	buf[4] = uint8(version)
	buf[5] = uint8(len(song.Voices))
	binary.BigEndian.PutUint16(buf[6:], uint16(song.TickRate))
	binary.BigEndian.PutUint32(buf[8:], uint32(instOffset))
	binary.BigEndian.PutUint16(buf[12:], uint16(len(song.Instruments)))
	binary.BigEndian.PutUint16(buf[14:], uint16(len(song.Samples)))
	binary.BigEndian.PutUint32(buf[16:], uint32(sampleTableOffset))
	binary.BigEndian.PutUint32(buf[20:], uint32(programTable))
	binary.BigEndian.PutUint32(buf[24:], uint32(programEnd))
	binary.BigEndian.PutUint32(buf[28:], uint32(bankOffset))
	binary.BigEndian.PutUint32(buf[32:], uint32(len(song.SampleBank)))

	for i, inst := range song.Instruments {
		b := buf[instOffset+i*instrumentRecordSize:]
		b[0] = uint8(inst.Sample)
		b[1] = uint8(inst.Volume)
		b[2] = uint8(inst.Attack)
		b[3] = uint8(inst.Decay)
		b[4] = uint8(inst.Sustain)
		b[5] = uint8(inst.Release)
		b[6] = uint8(inst.VibratoDelay)
		b[7] = uint8(inst.VibratoSpeed)
		b[8] = uint8(inst.VibratoDepth)
		b[9] = uint8(inst.Arpeggio[0])
		b[10] = uint8(inst.Arpeggio[1])
		b[11] = uint8(inst.Transpose)
	}

	for i, s := range song.Samples {
		if s.Length%2 != 0 || s.LoopLength%2 != 0 {
			return nil, fmt.Errorf("sample[%d]: lengths must be word-aligned", i)
		}
		b := buf[sampleTableOffset+i*sampleRecordSize:]
		binary.BigEndian.PutUint32(b[0:], uint32(s.Offset))
		binary.BigEndian.PutUint16(b[4:], uint16(s.Length>>1))
		binary.BigEndian.PutUint16(b[6:], uint16(s.LoopStart))
		binary.BigEndian.PutUint16(b[8:], uint16(s.LoopLength>>1))
	}

	offset := programStart
	for i, code := range programs {
		binary.BigEndian.PutUint32(buf[programTable+i*4:], uint32(offset))
		copy(buf[offset:], code)
		offset += len(code)
	}

	for i, v := range song.SampleBank {
		buf[bankOffset+i] = uint8(v)
	}

	return buf, nil
}

func encodeProgram(prog *VoiceProgram) ([]byte, error) {
	if len(prog.Ops) == 0 || prog.Ops[len(prog.Ops)-1].Kind != OpEnd {
		return nil, errors.New("program must be terminated by an end op")
	}

	// Every op byte offset must be known before the jumps can be written.
	offsets := make([]int, len(prog.Ops))
	size := 0
	for i, op := range prog.Ops {
		_, numOperands, ok := encodeOpKind(op.Kind)
		if !ok {
			return nil, fmt.Errorf("op[%d]: unexpected kind %d", i, op.Kind)
		}
		offsets[i] = size
		size += 1 + numOperands
	}
	if size > 0xffff {
		return nil, fmt.Errorf("program is too big (%d bytes)", size)
	}

	code := make([]byte, 0, size)
	for i, op := range prog.Ops {
		b, _, _ := encodeOpKind(op.Kind)
		code = append(code, b)
		switch op.Kind {
		case OpSetNote, OpSetVolume, OpSetInstrument, OpSetSample, OpWait, OpChannelVolume:
			code = append(code, uint8(op.Arg))
		case OpSlide:
			var err error
			code, err = appendSlide(code, op)
			if err != nil {
				return nil, fmt.Errorf("op[%d]: %w", i, err)
			}
		case OpPortamento:
			code = binary.BigEndian.AppendUint16(code, uint16(int16(op.Arg)))
		case OpVibrato, OpArpeggio:
			code = append(code, uint8(op.Arg), uint8(op.Arg2))
		case OpJump, OpLoop:
			if op.Arg < 0 || op.Arg >= len(prog.Ops) {
				return nil, fmt.Errorf("op[%d]: %s target %d is out of range", i, op.Kind, op.Arg)
			}
			if op.Kind == OpLoop {
				code = append(code, uint8(op.Arg2))
			}
			code = binary.BigEndian.AppendUint16(code, uint16(offsets[op.Arg]))
		}
	}
	return code, nil
}

func appendSlide(code []byte, op Op) ([]byte, error) {
	w := op.Slide
	start := uint16(0xffff)
	if w.Start != SlideFromEnd {
		if w.Start < 0 || w.Start%2 != 0 || w.Start>>1 >= 0xffff {
			return nil, fmt.Errorf("invalid slide start %d", w.Start)
		}
		start = uint16(w.Start >> 1)
	}
	if w.Length <= 0 || w.Length%2 != 0 || w.Length>>1 > 0xffff {
		return nil, fmt.Errorf("invalid slide length %d", w.Length)
	}
	if w.Delta%2 != 0 || w.Delta>>1 < -0x8000 || w.Delta>>1 > 0x7fff {
		return nil, fmt.Errorf("invalid slide delta %d", w.Delta)
	}
	code = append(code, uint8(op.Arg))
	code = binary.BigEndian.AppendUint16(code, start)
	code = binary.BigEndian.AppendUint16(code, uint16(w.Length>>1))
	code = binary.BigEndian.AppendUint16(code, uint16(int16(w.Delta>>1)))
	code = append(code, uint8(w.Delay))
	return code, nil
}
