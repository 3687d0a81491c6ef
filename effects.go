package coso

import (
	"github.com/quasilyte/coso/cosofile"
	"github.com/quasilyte/coso/internal/cosodb"
)

// effectState is a set of per-voice effect counters.
// It's a plain value: every tick function returns an updated copy.
type effectState struct {
	arpeggio   arpeggioState
	vibrato    vibratoState
	portamento portamentoState
	envelope   envelopeState
	slide      slideState
}

type arpeggioState struct {
	offsets [2]int8
	step    uint8
	active  bool

	// noteOffset is the semitone offset for the current tick.
	noteOffset int
}

type vibratoState struct {
	delay    int
	delaying bool
	slope    int
	depth    int

	// current is a 1/1024 period offset.
	current   int
	direction int
}

type portamentoState struct {
	delta int

	// current is a 1/1024 period offset.
	current int
}

// slideState is a loop window moving through the sample.
// A zero length means that there is no sliding sample.
type slideState struct {
	start  int
	length int

	// limit is the last valid window start.
	limit int

	delta   int
	delay   int
	counter int

	// moved is set on the ticks that shifted the window.
	moved bool
}

type envelopePhase uint8

const (
	envelopeHold envelopePhase = iota
	envelopeAttack
	envelopeDecay
	envelopeRelease
)

type envelopeState struct {
	phase   envelopePhase
	attack  int
	decay   int
	sustain int
	release int

	level int
}

// Portamento offsets are clamped to keep the period math in range.
const (
	minPortamentoOffset = -1023
	maxPortamentoOffset = 4 * 1024
)

func newEffectState() effectState {
	return effectState{
		envelope: envelopeState{level: cosodb.MaxVolume},
	}
}

func (fx effectState) tick() effectState {
	fx.arpeggio = fx.arpeggio.tick()
	fx.vibrato = fx.vibrato.tick()
	fx.portamento = fx.portamento.tick()
	fx.envelope = fx.envelope.tick()
	fx.slide = fx.slide.tick()
	return fx
}

// reset stops every pitch sweep.
// The volume envelope and the sliding sample keep running.
func (fx effectState) reset() effectState {
	return effectState{envelope: fx.envelope, slide: fx.slide}
}

// withInstrument loads the instrument effect parameters
// and restarts its volume envelope.
func (fx effectState) withInstrument(inst *cosofile.Instrument) effectState {
	fx.arpeggio = startArpeggio(inst.Arpeggio[0], inst.Arpeggio[1])
	fx.vibrato = startVibrato(inst.VibratoDelay, inst.VibratoSpeed, inst.VibratoDepth)
	fx.envelope = startEnvelope(inst)
	fx.slide = slideState{}
	return fx
}

func startArpeggio(a, b int8) arpeggioState {
	return arpeggioState{
		offsets: [2]int8{a, b},
		active:  a != 0 || b != 0,
	}
}

func (arp arpeggioState) tick() arpeggioState {
	if !arp.active {
		arp.noteOffset = 0
		return arp
	}
	switch arp.step % 3 {
	case 0:
		arp.noteOffset = 0
	case 1:
		arp.noteOffset = int(arp.offsets[0])
	case 2:
		arp.noteOffset = int(arp.offsets[1])
	}
	arp.step++
	return arp
}

func startVibrato(delay, slope, depth int) vibratoState {
	if depth == 0 || slope == 0 {
		return vibratoState{}
	}
	return vibratoState{
		delay:     delay,
		slope:     slope,
		depth:     depth,
		current:   depth,
		direction: -1,
	}
}

// tick moves the offset along a triangle wave bouncing between -depth and +depth.
func (vib vibratoState) tick() vibratoState {
	if vib.slope == 0 {
		return vib
	}
	if vib.delay > 0 {
		vib.delay--
		vib.delaying = true
		return vib
	}
	vib.delaying = false
	vib.current += vib.direction * vib.slope
	switch {
	case vib.current <= -vib.depth:
		vib.current = -vib.depth
		vib.direction = 1
	case vib.current >= vib.depth:
		vib.current = vib.depth
		vib.direction = -1
	}
	return vib
}

// offset is the vibrato contribution for the current tick.
// The offset only applies after the delay is over.
func (vib vibratoState) offset() int {
	if vib.slope == 0 || vib.delaying {
		return 0
	}
	return vib.current
}

func startSlide(w cosofile.SlideWindow, sampleLength int) slideState {
	start, length := w.Bounds(sampleLength)
	if length == 0 {
		return slideState{}
	}
	return slideState{
		start:   start,
		length:  length,
		limit:   sampleLength - length,
		delta:   w.Delta,
		delay:   w.Delay,
		counter: w.Delay,
	}
}

func (sl slideState) nextStart() int {
	return clamp(sl.start+sl.delta, 0, sl.limit)
}

// tick shifts the window every delay+1 ticks.
// The slide is over when the window hits the sample bounds.
func (sl slideState) tick() slideState {
	sl.moved = false
	if sl.delta == 0 {
		return sl
	}
	if sl.counter > 0 {
		sl.counter--
		return sl
	}
	sl.counter = sl.delay
	next := sl.nextStart()
	sl.moved = next != sl.start
	sl.start = next
	if sl.nextStart() == sl.start {
		sl.delta = 0
	}
	return sl
}

func startPortamento(delta int) portamentoState {
	return portamentoState{delta: delta}
}

func (porta portamentoState) tick() portamentoState {
	if porta.delta == 0 {
		return porta
	}
	porta.current = clamp(porta.current+porta.delta, minPortamentoOffset, maxPortamentoOffset)
	return porta
}

func startEnvelope(inst *cosofile.Instrument) envelopeState {
	if !inst.HasEnvelope() {
		return envelopeState{level: cosodb.MaxVolume}
	}
	env := envelopeState{
		phase:   envelopeAttack,
		attack:  inst.Attack,
		decay:   inst.Decay,
		sustain: inst.Sustain,
		release: inst.Release,
	}
	if env.attack == 0 {
		env.level = cosodb.MaxVolume
		env.phase = envelopeDecay
	}
	return env
}

// noteOff switches the envelope into the release phase.
// Without a release rate the voice is cut right away.
func (env envelopeState) noteOff() envelopeState {
	if env.release == 0 {
		env.level = 0
		env.phase = envelopeHold
		return env
	}
	env.phase = envelopeRelease
	return env
}

func (env envelopeState) tick() envelopeState {
	switch env.phase {
	case envelopeAttack:
		env.level += env.attack
		if env.level >= cosodb.MaxVolume {
			env.level = cosodb.MaxVolume
			env.phase = envelopeDecay
		}
	case envelopeDecay:
		if env.decay == 0 {
			env.phase = envelopeHold
			break
		}
		env.level -= env.decay
		if env.level <= env.sustain {
			env.level = env.sustain
			env.phase = envelopeHold
		}
	case envelopeRelease:
		env.level -= env.release
		if env.level <= 0 {
			env.level = 0
			env.phase = envelopeHold
		}
	}
	return env
}
