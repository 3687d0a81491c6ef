package coso

import (
	"github.com/quasilyte/coso/internal/cosodb"
)

// streamChannel is a voice mixer state.
// It follows the voice frames and produces the sample points.
type streamChannel struct {
	sample   *sample
	sampleID int

	// cursor is a fractional position inside the sample pcm.
	cursor float64
	step   float64

	// The loop region that is currently in effect.
	// A sliding sample replaces the sample loop with its window.
	hasLoop   bool
	loopStart float64
	loopEnd   float64

	volume int32

	// active is false when there is nothing to play:
	// no sample is selected or a one-shot sample is over.
	active bool

	// Amiga hardware panning: voices 0 and 3 are on the left.
	left bool
}

func (ch *streamChannel) Reset(id int) {
	*ch = streamChannel{
		sampleID: -1,
		left:     id == 0 || id == 3,
	}
}

// Stop silences the channel until the next frame with a sample.
func (ch *streamChannel) Stop() {
	ch.active = false
	ch.volume = 0
}

// setSample starts playing s from the specified position.
func (ch *streamChannel) setSample(s *sample, pos float64) {
	ch.sample = s
	ch.hasLoop = s.hasLoop
	ch.loopStart = s.loopStart
	ch.loopEnd = s.loopEnd
	ch.cursor = pos
	ch.active = len(s.pcm) != 0
}

func (ch *streamChannel) applyFrame(m *module, f *VoiceFrame) {
	if f.Sample < 0 {
		ch.sample = nil
		ch.sampleID = -1
		ch.active = false
		return
	}
	if f.Retrigger || f.Sample != ch.sampleID {
		ch.sampleID = f.Sample
		ch.setSample(&m.samples[f.Sample], float64(f.WindowStart))
	}
	if f.WindowLength != 0 {
		ch.hasLoop = true
		ch.loopStart = float64(f.WindowStart)
		ch.loopEnd = float64(f.WindowStart + f.WindowLength)
	}
	ch.step = cosodb.PeriodStep(f.Period, m.sampleRate)
	ch.volume = int32(f.Volume)
}

// NextSample returns the next sample point scaled to the 16-bit range.
// The channel volume is not applied.
func (ch *streamChannel) NextSample() int32 {
	if !ch.active {
		return 0
	}
	v := int32(ch.sample.pcm[int(ch.cursor)]) << 8
	ch.cursor += ch.step
	if ch.hasLoop {
		for ch.cursor >= ch.loopEnd {
			ch.cursor -= ch.loopEnd - ch.loopStart
		}
	} else if ch.cursor >= float64(len(ch.sample.pcm)) {
		ch.active = false
	}
	return v
}
