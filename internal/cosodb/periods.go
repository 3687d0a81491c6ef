package cosodb

// PALClock is the Paula DMA clock the original replay routine was tuned for.
const PALClock = 3546894.6

// MaxVolume is the hardware volume ceiling.
const MaxVolume = 64

// DefaultTickRate matches the 20ms vertical blank interrupt.
const DefaultTickRate = 50

// MinPeriod guards the step computation against runaway sweeps.
const MinPeriod = 113

// MaxPeriod keeps downward sweeps inside the table range.
const MaxPeriod = 6848

// Periods is the CoSo period table, 7 rows of 12 semitones.
// Rows 4-6 are the replay routine's wrap-around entries.
var Periods = [7 * 12]int{
	1712, 1616, 1524, 1440, 1356, 1280, 1208, 1140, 1076, 1016, 960, 906,
	856, 808, 762, 720, 678, 640, 604, 570, 538, 508, 480, 453,
	428, 404, 381, 360, 339, 320, 302, 285, 269, 254, 240, 226,
	214, 202, 190, 180, 170, 160, 151, 143, 135, 127, 120, 113,
	113, 113, 113, 113, 113, 113, 113, 113, 113, 113, 113, 113,
	3424, 3232, 3048, 2880, 2712, 2560, 2416, 2280, 2152, 2032, 1920, 1812,
	6848, 6464, 6096, 5760, 5424, 5120, 4832, 4560, 4304, 4064, 3840, 3624,
}

// NumNotes is the number of addressable notes.
const NumNotes = len(Periods)

// NoteToPeriod maps a note index to its period; indices wrap like the original table lookup.
func NoteToPeriod(note int) int {
	note %= NumNotes
	if note < 0 {
		note += NumNotes
	}
	return Periods[note]
}

// ScalePeriod applies a 1/1024 fixed-point offset to a period.
// This is how both vibrato and portamento bend the pitch.
func ScalePeriod(period, offset int) int {
	v := (period * (1024 + offset)) >> 10
	if v < MinPeriod {
		return MinPeriod
	}
	if v > MaxPeriod {
		return MaxPeriod
	}
	return v
}

// PeriodStep converts a period into a sample cursor increment
// for the given output sample rate.
func PeriodStep(period int, sampleRate float64) float64 {
	if period <= 0 {
		return 0
	}
	return (PALClock / float64(period)) / sampleRate
}
