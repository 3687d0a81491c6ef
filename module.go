package coso

import (
	"github.com/quasilyte/coso/cosofile"
)

// module is a song prepared for a specific output format.
// It only references the parsed song data, nothing is copied.
type module struct {
	song *cosofile.Song

	voices []*cosofile.VoiceProgram

	instruments []cosofile.Instrument

	samples []sample

	sampleRate float64
	tickRate   int

	// Output format.
	numChannels    int
	bytesPerSample int
	bytesPerFrame  int

	// outputSampleRate is sampleRate as an integer, used for the
	// drift-free samples per tick accumulator.
	outputSampleRate int
}

type moduleConfig struct {
	sampleRate uint
	channels   uint
	bitDepth   uint
	tickRate   uint
}

type sample struct {
	// pcm is a window into the song sample bank.
	pcm []int8

	hasLoop   bool
	loopStart float64
	loopEnd   float64
}
