package coso

import (
	"fmt"

	"github.com/quasilyte/coso/cosofile"
	"github.com/quasilyte/coso/internal/cosodb"
)

// VoiceStatus describes the outcome of a single interpreter tick.
type VoiceStatus int

const (
	// VoiceRunning means that a frame was produced.
	VoiceRunning VoiceStatus = iota

	// VoiceLooping means that a frame was produced and this tick
	// resumed the program after a jump.
	VoiceLooping

	// VoiceStopped means that the program reached its end
	// or the voice was silenced. No frame is produced.
	VoiceStopped
)

func (s VoiceStatus) String() string {
	switch s {
	case VoiceRunning:
		return "running"
	case VoiceLooping:
		return "looping"
	case VoiceStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// maxOpsPerTick limits the number of ops a single tick can execute.
// A program that jumps around without ever waiting would hang the
// playback otherwise.
const maxOpsPerTick = 1024

// VoiceFrame is one tick of resolved playback parameters for one voice.
type VoiceFrame struct {
	Voice int
	Tick  int

	// Note is the effective note, including the transpose and arpeggio offsets.
	Note int

	// Period is the final hardware period after all pitch effects.
	Period int

	// Volume is the final volume in [0, 64].
	Volume int

	// Sample is the active sample id or -1 if there is none.
	Sample int

	// Retrigger is set when this tick (re)started the sample from its beginning.
	Retrigger bool

	// Vibrato and Portamento are the active sweep offsets (1/1024 period units).
	Vibrato    int
	Portamento int

	// Arpeggio is the active arpeggio offset in semitones.
	Arpeggio int

	// WindowStart and WindowLength replace the sample loop
	// while a sliding sample is active (bytes, relative to the sample start).
	// WindowLength is 0 for the ordinary samples.
	WindowStart  int
	WindowLength int
}

// voiceState is the interpreter state of a single voice.
// It has no pointers, so copying it creates an independent snapshot.
type voiceState struct {
	voice int
	tick  int

	// pc is an index into the program ops.
	pc int

	// wait is the number of further ticks to stay suspended.
	wait int

	loops [cosofile.MaxLoopSlots]int

	stopped bool

	// badRef is set once the voice was silenced due to a bad reference.
	badRef bool

	note       int
	volume     int
	sample     int
	instrument int
	retrigger  bool

	// channelVolume scales the volume on top of the instrument and
	// the envelope; instruments don't reset it.
	channelVolume int

	fx effectState
}

// stepResult carries the diagnostics of a single step.
type stepResult struct {
	status VoiceStatus

	// badRefOp is OpNone unless this step hit a bad reference.
	badRefOp cosofile.OpKind
	badRefID int

	stalled bool

	// halted is set on the tick that stopped the voice.
	halted bool
}

func newVoiceState(voice int) voiceState {
	return voiceState{
		voice:      voice,
		volume:        cosodb.MaxVolume,
		sample:        -1,
		instrument:    -1,
		channelVolume: cosodb.MaxVolume,
		fx:            newEffectState(),
	}
}

// stepVoice runs a single tick of the voice program.
//
// It executes ops until a wait or an end op is reached
// and then advances the effect counters exactly once.
// The song tables are only read.
func stepVoice(m *module, prog *cosofile.VoiceProgram, st voiceState) (voiceState, VoiceFrame, stepResult) {
	var res stepResult
	if st.stopped {
		res.status = VoiceStopped
		return st, VoiceFrame{}, res
	}

	st.retrigger = false
	if st.wait > 0 {
		st.wait--
	} else {
		jumped := false
		numOps := 0
	loop:
		for {
			if numOps == maxOpsPerTick {
				res.stalled = true
				break
			}
			numOps++

			op := &prog.Ops[st.pc]
			st.pc++
			switch op.Kind {
			case cosofile.OpSetNote:
				st.note = op.Arg
				st.retrigger = true

			case cosofile.OpSetVolume:
				st.volume = clamp(op.Arg, 0, cosodb.MaxVolume)

			case cosofile.OpSetInstrument:
				if op.Arg >= len(m.instruments) {
					return silenceVoice(st, res, op)
				}
				inst := &m.instruments[op.Arg]
				st.instrument = op.Arg
				st.sample = inst.Sample
				st.volume = inst.Volume
				st.fx = st.fx.withInstrument(inst)
				st.retrigger = true

			case cosofile.OpSetSample:
				if op.Arg >= len(m.samples) {
					return silenceVoice(st, res, op)
				}
				st.sample = op.Arg
				st.fx.slide = slideState{}
				st.retrigger = true

			case cosofile.OpSlide:
				if op.Arg >= len(m.samples) {
					return silenceVoice(st, res, op)
				}
				st.sample = op.Arg
				st.fx.slide = startSlide(op.Slide, len(m.samples[op.Arg].pcm))
				st.fx.envelope = restartEnvelope(m, st.instrument)
				st.retrigger = true

			case cosofile.OpChannelVolume:
				st.channelVolume = clamp(op.Arg, 0, cosodb.MaxVolume)

			case cosofile.OpPortamento:
				st.fx.portamento = startPortamento(op.Arg)

			case cosofile.OpVibrato:
				st.fx.vibrato = startVibrato(0, op.Arg, op.Arg2)

			case cosofile.OpArpeggio:
				st.fx.arpeggio = startArpeggio(int8(op.Arg), int8(op.Arg2))

			case cosofile.OpResetEffects:
				st.fx = st.fx.reset()

			case cosofile.OpNoteOff:
				st.fx.envelope = st.fx.envelope.noteOff()

			case cosofile.OpJump:
				st.pc = op.Arg
				jumped = true

			case cosofile.OpLoop:
				counter := st.loops[op.Slot]
				if counter == 0 {
					counter = op.Arg2 + 1
				}
				counter--
				st.loops[op.Slot] = counter
				if counter > 0 {
					st.pc = op.Arg
					jumped = true
				}

			case cosofile.OpWait:
				st.wait = clampMin(op.Arg, 1) - 1
				break loop

			case cosofile.OpEnd:
				st.stopped = true
				res.status = VoiceStopped
				res.halted = true
				return st, VoiceFrame{}, res
			}
		}
		if jumped {
			res.status = VoiceLooping
		}
	}

	st.fx = st.fx.tick()
	frame := resolveFrame(m, &st)
	st.tick++
	return st, frame, res
}

func restartEnvelope(m *module, instrument int) envelopeState {
	if instrument == -1 {
		return envelopeState{level: cosodb.MaxVolume}
	}
	return startEnvelope(&m.instruments[instrument])
}

func silenceVoice(st voiceState, res stepResult, op *cosofile.Op) (voiceState, VoiceFrame, stepResult) {
	st.stopped = true
	st.badRef = true
	res.status = VoiceStopped
	res.halted = true
	res.badRefOp = op.Kind
	res.badRefID = op.Arg
	return st, VoiceFrame{}, res
}

// resolveFrame combines the base values with the effect contributions.
func resolveFrame(m *module, st *voiceState) VoiceFrame {
	note := st.note + st.fx.arpeggio.noteOffset
	if st.instrument != -1 {
		note += int(m.instruments[st.instrument].Transpose)
	}
	vibrato := st.fx.vibrato.offset()
	portamento := st.fx.portamento.current
	period := cosodb.NoteToPeriod(note)
	period = cosodb.ScalePeriod(period, vibrato)
	period = cosodb.ScalePeriod(period, portamento)

	volume := (st.volume * st.fx.envelope.level) / cosodb.MaxVolume
	volume = (volume * st.channelVolume) / cosodb.MaxVolume

	return VoiceFrame{
		Voice:        st.voice,
		Tick:         st.tick,
		Note:         note,
		Period:       period,
		Volume:       volume,
		Sample:       st.sample,
		Retrigger:    st.retrigger || st.fx.slide.moved,
		Vibrato:      vibrato,
		Portamento:   portamento,
		Arpeggio:     st.fx.arpeggio.noteOffset,
		WindowStart:  st.fx.slide.start,
		WindowLength: st.fx.slide.length,
	}
}

// VoiceInterpreter executes a single voice program tick by tick.
//
// It's useful for tools that need to inspect the voice frames
// without rendering any audio. Stream uses the same state machine.
type VoiceInterpreter struct {
	module module
	prog   *cosofile.VoiceProgram
	state  voiceState
	err    error
}

// NewVoiceInterpreter creates an interpreter for the specified song voice.
func NewVoiceInterpreter(song *cosofile.Song, voice int) (*VoiceInterpreter, error) {
	if voice < 0 || voice >= len(song.Voices) {
		return nil, fmt.Errorf("voice %d is out of range (%d voices)", voice, len(song.Voices))
	}
	tickRate := song.TickRate
	if tickRate == 0 {
		tickRate = cosodb.DefaultTickRate
	}
	m, err := compileModule(song, moduleConfig{
		sampleRate: defaultSampleRate,
		channels:   1,
		bitDepth:   16,
		tickRate:   uint(tickRate),
	})
	if err != nil {
		return nil, err
	}
	vi := &VoiceInterpreter{module: m}
	vi.prog = vi.module.voices[voice]
	vi.state = newVoiceState(voice)
	return vi, nil
}

// Step executes exactly one tick.
// The frame is only valid if the status is not VoiceStopped.
func (vi *VoiceInterpreter) Step() (VoiceFrame, VoiceStatus) {
	st, frame, res := stepVoice(&vi.module, vi.prog, vi.state)
	vi.state = st
	if res.badRefOp != cosofile.OpNone {
		vi.err = newBadReferenceError(vi.state.voice, res.badRefOp, res.badRefID)
	}
	return frame, res.status
}

// Err returns a bad reference error if the voice was silenced because of it.
func (vi *VoiceInterpreter) Err() error { return vi.err }

// Reset restarts the program from its first op.
func (vi *VoiceInterpreter) Reset() {
	vi.state = newVoiceState(vi.state.voice)
	vi.err = nil
}

func newBadReferenceError(voice int, op cosofile.OpKind, id int) error {
	return fmt.Errorf("voice %d: %s refers to id %d: %w", voice, op, id, cosofile.ErrBadReference)
}
