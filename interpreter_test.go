package coso

import (
	"errors"
	"testing"

	"github.com/quasilyte/coso/cosofile"
	"github.com/quasilyte/coso/internal/cosodb"
)

func op(kind cosofile.OpKind, args ...int) cosofile.Op {
	o := cosofile.Op{Kind: kind}
	if len(args) > 0 {
		o.Arg = args[0]
	}
	if len(args) > 1 {
		o.Arg2 = args[1]
	}
	return o
}

func loopOp(count, target int) cosofile.Op {
	return cosofile.Op{Kind: cosofile.OpLoop, Arg: target, Arg2: count}
}

// Sample ids of newTestSong.
const (
	testSquare = iota
	testRamp
	testMax
	testMin
)

// newTestSong creates a song with the given voice programs
// and a fixed set of 4 instruments and 4 samples.
//
// The song goes through the encoder and the parser,
// so the programs look exactly like they would in a real song.
func newTestSong(t testing.TB, programs ...[]cosofile.Op) *cosofile.Song {
	t.Helper()

	var bank []int8
	addSample := func(pcm []int8, loop bool) cosofile.SampleData {
		s := cosofile.SampleData{Offset: len(bank), Length: len(pcm)}
		if loop {
			s.LoopLength = len(pcm)
		}
		bank = append(bank, pcm...)
		return s
	}
	square := make([]int8, 64)
	ramp := make([]int8, 32)
	maxWave := make([]int8, 64)
	minWave := make([]int8, 64)
	for i := range square {
		square[i] = 100
		if i >= 32 {
			square[i] = -100
		}
		maxWave[i] = 127
		minWave[i] = -128
	}
	for i := range ramp {
		ramp[i] = int8(i * 3)
	}

	song := &cosofile.Song{
		TickRate: 50,
		Samples: []cosofile.SampleData{
			testSquare: addSample(square, true),
			testRamp:   addSample(ramp, false),
			testMax:    addSample(maxWave, true),
			testMin:    addSample(minWave, true),
		},
		Instruments: []cosofile.Instrument{
			{Sample: testSquare, Volume: 64},
			{Sample: testRamp, Volume: 40, Transpose: 12},
			{Sample: testSquare, Volume: 64, Attack: 16, Decay: 4, Sustain: 40, Release: 8},
			{Sample: testSquare, Volume: 50, VibratoDelay: 1, VibratoSpeed: 16, VibratoDepth: 64, Arpeggio: [2]int8{3, 7}},
		},
	}
	song.SampleBank = bank
	for _, ops := range programs {
		song.Voices = append(song.Voices, cosofile.VoiceProgram{Ops: ops})
	}

	data, err := cosofile.Encode(song)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := cosofile.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return parsed
}

func newTestInterpreter(t *testing.T, ops ...cosofile.Op) *VoiceInterpreter {
	t.Helper()
	vi, err := NewVoiceInterpreter(newTestSong(t, ops), 0)
	if err != nil {
		t.Fatal(err)
	}
	return vi
}

func TestTickBoundary(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpSetVolume, 32),
		op(cosofile.OpWait, 2),
		op(cosofile.OpSetVolume, 64),
		op(cosofile.OpEnd),
	)

	for tick := 0; tick < 2; tick++ {
		frame, status := vi.Step()
		if status != VoiceRunning {
			t.Fatalf("tick %d: expected running status, got %v", tick, status)
		}
		if frame.Volume != 32 || frame.Tick != tick {
			t.Fatalf("tick %d: unexpected frame %+v", tick, frame)
		}
	}
	for tick := 2; tick < 5; tick++ {
		if _, status := vi.Step(); status != VoiceStopped {
			t.Fatalf("tick %d: expected stopped status, got %v", tick, status)
		}
	}
	if vi.Err() != nil {
		t.Fatalf("unexpected error: %v", vi.Err())
	}

	vi.Reset()
	if frame, _ := vi.Step(); frame.Volume != 32 || frame.Tick != 0 {
		t.Fatalf("reset didn't restart the program: %+v", frame)
	}
}

func TestWaitZero(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpWait, 0),
		op(cosofile.OpEnd),
	)
	if _, status := vi.Step(); status != VoiceRunning {
		t.Fatalf("expected wait 0 to consume a tick, got %v", status)
	}
	if _, status := vi.Step(); status != VoiceStopped {
		t.Fatalf("expected stopped status, got %v", status)
	}
}

func TestLoopSafety(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpSetNote, 24),
		op(cosofile.OpWait, 1),
		op(cosofile.OpJump, 0),
		op(cosofile.OpEnd),
	)

	for tick := 0; tick < 100000; tick++ {
		_, status := vi.Step()
		want := VoiceLooping
		if tick == 0 {
			want = VoiceRunning
		}
		if status != want {
			t.Fatalf("tick %d: expected %v, got %v", tick, want, status)
		}
	}

	allocs := testing.AllocsPerRun(1000, func() {
		vi.Step()
	})
	if allocs != 0 {
		t.Fatalf("expected no allocations per tick, got %v", allocs)
	}
}

func TestCountedLoop(t *testing.T) {
	tests := []struct {
		name   string
		ops    []cosofile.Op
		volume []int
	}{
		{
			name: "fall through",
			ops: []cosofile.Op{
				op(cosofile.OpSetVolume, 10),
				op(cosofile.OpWait, 1),
				loopOp(2, 0),
				op(cosofile.OpSetVolume, 20),
				op(cosofile.OpWait, 1),
				op(cosofile.OpEnd),
			},
			volume: []int{10, 10, 10, 20},
		},
		{
			name: "re-entered",
			ops: []cosofile.Op{
				op(cosofile.OpSetVolume, 10),
				op(cosofile.OpWait, 1),
				loopOp(1, 0),
				op(cosofile.OpSetVolume, 20),
				op(cosofile.OpWait, 1),
				op(cosofile.OpJump, 0),
				op(cosofile.OpEnd),
			},
			volume: []int{10, 10, 20, 10, 10, 20, 10, 10, 20},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			vi := newTestInterpreter(t, test.ops...)
			var have []int
			for {
				frame, status := vi.Step()
				if status == VoiceStopped || len(have) == len(test.volume) {
					break
				}
				have = append(have, frame.Volume)
			}
			if len(have) != len(test.volume) {
				t.Fatalf("expected %d frames, got %d", len(test.volume), len(have))
			}
			for i := range have {
				if have[i] != test.volume[i] {
					t.Fatalf("frame %d: expected volume %d, got %d (all: %v)", i, test.volume[i], have[i], have)
				}
			}
		})
	}
}

func TestSetNoteKeepsSweep(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpSetNote, 24),
		op(cosofile.OpPortamento, 100),
		op(cosofile.OpWait, 3),
		op(cosofile.OpSetNote, 30),
		op(cosofile.OpWait, 1),
		op(cosofile.OpResetEffects),
		op(cosofile.OpWait, 1),
		op(cosofile.OpEnd),
	)

	want := []int{100, 200, 300, 400, 0}
	for tick, w := range want {
		frame, _ := vi.Step()
		if frame.Portamento != w {
			t.Fatalf("tick %d: expected portamento %d, got %d", tick, w, frame.Portamento)
		}
		if tick == 3 {
			if !frame.Retrigger {
				t.Errorf("expected the set-note to retrigger")
			}
			wantPeriod := cosodb.ScalePeriod(cosodb.NoteToPeriod(30), 400)
			if frame.Period != wantPeriod {
				t.Errorf("expected period %d, got %d", wantPeriod, frame.Period)
			}
		}
	}
}

func TestInstrumentFrame(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpSetInstrument, 1),
		op(cosofile.OpSetNote, 12),
		op(cosofile.OpWait, 2),
		op(cosofile.OpEnd),
	)

	frame, _ := vi.Step()
	want := VoiceFrame{
		Voice:     0,
		Tick:      0,
		Note:      24,
		Period:    cosodb.NoteToPeriod(24),
		Volume:    40,
		Sample:    testRamp,
		Retrigger: true,
	}
	if frame != want {
		t.Fatalf("expected %+v, got %+v", want, frame)
	}

	frame, _ = vi.Step()
	if frame.Retrigger {
		t.Fatalf("a wait tick must not retrigger the sample")
	}
}

func slideOp(sampleID int, w cosofile.SlideWindow) cosofile.Op {
	return cosofile.Op{Kind: cosofile.OpSlide, Arg: sampleID, Slide: w}
}

func TestSlideFrames(t *testing.T) {
	tests := []struct {
		name          string
		window        cosofile.SlideWindow
		wantStart     []int
		wantRetrigger []bool
	}{
		{
			name:          "forward",
			window:        cosofile.SlideWindow{Start: 0, Length: 16, Delta: 16},
			wantStart:     []int{16, 32, 48, 48, 48},
			wantRetrigger: []bool{true, true, true, false, false},
		},
		{
			name:          "backward from the end",
			window:        cosofile.SlideWindow{Start: cosofile.SlideFromEnd, Length: 16, Delta: -20},
			wantStart:     []int{28, 8, 0, 0},
			wantRetrigger: []bool{true, true, true, false},
		},
		{
			name:          "delayed",
			window:        cosofile.SlideWindow{Start: 8, Length: 16, Delta: 8, Delay: 2},
			wantStart:     []int{8, 8, 16, 16, 16, 24},
			wantRetrigger: []bool{true, false, true, false, false, true},
		},
		{
			name:          "static",
			window:        cosofile.SlideWindow{Start: 8, Length: 16},
			wantStart:     []int{8, 8, 8},
			wantRetrigger: []bool{true, false, false},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			vi := newTestInterpreter(t,
				op(cosofile.OpSetNote, 24),
				slideOp(testSquare, test.window),
				op(cosofile.OpWait, 20),
				op(cosofile.OpEnd),
			)
			for i, want := range test.wantStart {
				frame, _ := vi.Step()
				if frame.Sample != testSquare || frame.WindowLength != 16 {
					t.Fatalf("tick %d: unexpected frame %+v", i, frame)
				}
				if frame.WindowStart != want {
					t.Fatalf("tick %d: expected window start %d, got %d", i, want, frame.WindowStart)
				}
				if frame.Retrigger != test.wantRetrigger[i] {
					t.Fatalf("tick %d: expected retrigger=%v", i, test.wantRetrigger[i])
				}
			}
		})
	}
}

func TestSlideStopsOnSampleChange(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpSetInstrument, 0),
		slideOp(testSquare, cosofile.SlideWindow{Start: 0, Length: 16, Delta: 8}),
		op(cosofile.OpWait, 1),
		op(cosofile.OpResetEffects),
		op(cosofile.OpWait, 1),
		op(cosofile.OpSetSample, testRamp),
		op(cosofile.OpWait, 1),
		op(cosofile.OpEnd),
	)
	if frame, _ := vi.Step(); frame.WindowStart != 8 {
		t.Fatalf("expected the window to move, got %+v", frame)
	}
	if frame, _ := vi.Step(); frame.WindowLength != 16 || frame.WindowStart != 16 {
		t.Fatalf("reset-effects must keep the slide, got %+v", frame)
	}
	if frame, _ := vi.Step(); frame.WindowLength != 0 || frame.Sample != testRamp {
		t.Fatalf("a new sample must stop the slide, got %+v", frame)
	}
}

func TestChannelVolume(t *testing.T) {
	vi := newTestInterpreter(t,
		op(cosofile.OpChannelVolume, 32),
		op(cosofile.OpSetInstrument, 1),
		op(cosofile.OpWait, 1),
		op(cosofile.OpSetInstrument, 0),
		op(cosofile.OpWait, 1),
		op(cosofile.OpChannelVolume, 100),
		op(cosofile.OpWait, 1),
		op(cosofile.OpChannelVolume, 0),
		op(cosofile.OpWait, 1),
		op(cosofile.OpEnd),
	)
	for i, want := range []int{20, 32, 64, 0} {
		frame, _ := vi.Step()
		if frame.Volume != want {
			t.Fatalf("tick %d: expected volume %d, got %d", i, want, frame.Volume)
		}
	}
}

func TestBadReference(t *testing.T) {
	tests := []struct {
		name string
		op   cosofile.Op
	}{
		{"instrument", op(cosofile.OpSetInstrument, 99)},
		{"sample", op(cosofile.OpSetSample, 4)},
		{"slide", cosofile.Op{Kind: cosofile.OpSlide, Arg: 7, Slide: cosofile.SlideWindow{Length: 8}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			vi := newTestInterpreter(t,
				op(cosofile.OpSetVolume, 10),
				test.op,
				op(cosofile.OpWait, 1),
				op(cosofile.OpEnd),
			)
			for i := 0; i < 3; i++ {
				if _, status := vi.Step(); status != VoiceStopped {
					t.Fatalf("step %d: expected the voice to be silenced, got %v", i, status)
				}
			}
			if !errors.Is(vi.Err(), cosofile.ErrBadReference) {
				t.Fatalf("expected bad reference error, got %v", vi.Err())
			}
		})
	}
}

func TestNewVoiceInterpreterErrors(t *testing.T) {
	song := newTestSong(t, []cosofile.Op{op(cosofile.OpEnd)})
	for _, voice := range []int{-1, 1} {
		if _, err := NewVoiceInterpreter(song, voice); err == nil {
			t.Errorf("voice %d: expected an error", voice)
		}
	}
}
