package coso

import (
	"errors"
	"fmt"

	"github.com/quasilyte/coso/cosofile"
)

type moduleCompiler struct {
	result module
}

func compileModule(song *cosofile.Song, config moduleConfig) (module, error) {
	c := &moduleCompiler{}
	c.result = module{
		song:             song,
		sampleRate:       float64(config.sampleRate),
		outputSampleRate: int(config.sampleRate),
		tickRate:         int(config.tickRate),
		numChannels:      int(config.channels),
		bytesPerSample:   int(config.bitDepth / 8),
	}
	err := c.compile(song)
	return c.result, err
}

func (c *moduleCompiler) compile(song *cosofile.Song) error {
	if c.result.sampleRate < 4000 || c.result.sampleRate > 192000 {
		return fmt.Errorf("unsupported sample rate %v", c.result.sampleRate)
	}
	switch c.result.numChannels {
	case 1, 2:
		// OK
	default:
		return fmt.Errorf("unsupported channel count %d (only mono and stereo are supported)", c.result.numChannels)
	}
	switch c.result.bytesPerSample {
	case 1, 2:
		// OK
	default:
		return errors.New("unsupported bit depth (only 8 and 16 are supported)")
	}
	if c.result.tickRate <= 0 {
		return errors.New("tick rate must be positive")
	}
	c.result.bytesPerFrame = c.result.numChannels * c.result.bytesPerSample

	if len(song.Voices) == 0 {
		return errors.New("song has no voices")
	}
	// Songs can be built without the parser, so the tables
	// are checked here too: the interpreter and the mixer
	// index them without any bounds checks of their own.
	if err := validateSong(song); err != nil {
		return err
	}
	c.result.voices = make([]*cosofile.VoiceProgram, len(song.Voices))
	for i := range song.Voices {
		c.result.voices[i] = &song.Voices[i]
	}

	c.result.instruments = song.Instruments

	c.result.samples = make([]sample, len(song.Samples))
	for i := range song.Samples {
		c.compileSample(song, i)
	}

	return nil
}

func (c *moduleCompiler) compileSample(song *cosofile.Song, id int) {
	src := &song.Samples[id]
	dst := &c.result.samples[id]
	dst.pcm = song.PCM(id)
	if src.HasLoop() {
		dst.hasLoop = true
		dst.loopStart = float64(src.LoopStart)
		dst.loopEnd = float64(src.LoopEnd())
	}
}

func validateSong(song *cosofile.Song) error {
	for i := range song.Samples {
		s := &song.Samples[i]
		if s.Offset < 0 || s.Length < 0 || s.Offset+s.Length > len(song.SampleBank) {
			return malformedf("sample %d: %d+%d is outside of the %d bytes sample bank", i, s.Offset, s.Length, len(song.SampleBank))
		}
		if s.HasLoop() && (s.LoopStart < 0 || s.LoopEnd() > s.Length) {
			return malformedf("sample %d: loop %d+%d exceeds the sample length %d", i, s.LoopStart, s.LoopLength, s.Length)
		}
	}

	for i := range song.Instruments {
		inst := &song.Instruments[i]
		if inst.Sample < 0 || inst.Sample >= len(song.Samples) {
			return malformedf("instrument %d: sample id %d is out of range (%d samples)", i, inst.Sample, len(song.Samples))
		}
	}

	for i := range song.Voices {
		if err := validateProgram(song, &song.Voices[i]); err != nil {
			return fmt.Errorf("voice %d: %w", i, err)
		}
	}

	return nil
}

func validateProgram(song *cosofile.Song, prog *cosofile.VoiceProgram) error {
	if len(prog.Ops) == 0 || prog.Ops[len(prog.Ops)-1].Kind != cosofile.OpEnd {
		return malformedf("program must be terminated by an end op")
	}
	for i := range prog.Ops {
		op := &prog.Ops[i]
		switch op.Kind {
		case cosofile.OpJump, cosofile.OpLoop:
			if op.Arg < 0 || op.Arg >= len(prog.Ops) {
				return malformedf("op %d: %s target %d is out of range (%d ops)", i, op.Kind, op.Arg, len(prog.Ops))
			}
			if op.Kind == cosofile.OpLoop && (op.Slot < 0 || op.Slot >= cosofile.MaxLoopSlots) {
				return malformedf("op %d: loop slot %d is out of range", i, op.Slot)
			}
		case cosofile.OpSetInstrument, cosofile.OpSetSample:
			// Unknown ids are reported during the playback.
			if op.Arg < 0 {
				return malformedf("op %d: negative %s id %d", i, op.Kind, op.Arg)
			}
		case cosofile.OpSlide:
			if op.Arg < 0 {
				return malformedf("op %d: negative %s id %d", i, op.Kind, op.Arg)
			}
			if op.Arg < len(song.Samples) {
				if err := op.Slide.Validate(song.Samples[op.Arg].Length); err != nil {
					return malformedf("op %d: %v", i, err)
				}
			}
		}
	}
	return nil
}

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", cosofile.ErrMalformedSong, fmt.Sprintf(format, args...))
}
