package coso

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/quasilyte/coso/cosofile"
	"github.com/quasilyte/coso/internal/cosodb"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	defaultBitDepth   = 16

	// volumeOne is a 1.0 global volume in fixed point.
	volumeOne = 256
)

// Stream wraps the compiled COSO song, making it possible to Read() its PCM bytes.
//
// The Read() method produces little endian PCM bytes in the format
// specified by LoadSongConfig; the defaults (16-bit stereo at 44100)
// is what ebiten/audio package expects. Use Stream as an io.Reader
// argument for audio.NewPlayer().
type Stream struct {
	module module

	settings streamSettings

	voices   []voiceState
	frames   []VoiceFrame
	results  []stepResult
	channels []streamChannel

	// stallReported is a bitmask of voices that already reported a stall.
	stallReported uint8

	tick    int
	tickAcc int
	bytePos int
	ended   bool

	// buf holds the last rendered tick; bufPos is the first byte
	// that was not consumed by Read yet.
	buf    []byte
	bufPos int

	// seeking suppresses the events while the seek is in progress.
	seeking bool
}

type streamSettings struct {
	volume int32

	// muted is a voice bitmask; it can be changed
	// while another goroutine reads the stream.
	muted *atomic.Uint32

	parallelVoices bool
	eventHandler   func(e StreamEvent)
}

// StreamInfo contains a compiled song stream information like bytes per tick, etc.
type StreamInfo struct {
	// BytesPerTick is the max number of bytes a single tick can produce.
	// The tick sizes can vary by one frame as the fractional part of
	// the samples-per-tick value is carried over to the next tick.
	BytesPerTick uint

	// BytesPerFrame is a size of a single interleaved output frame.
	BytesPerFrame uint

	NumVoices  uint
	TickRate   uint
	SampleRate uint

	// MemoryUsage approximates the song data size in bytes.
	MemoryUsage uint
}

// LoadSongConfig configures the COSO song loading.
//
// These settings can't be changed after a song is loaded.
//
// Some extra configurations are available via Stream methods:
//   - Stream.SetVolume()
//   - Stream.SetVoiceMuted()
//   - Stream.SetParallelVoices()
//
// These extra configuration methods can be used even after a song is loaded.
type LoadSongConfig struct {
	// The sound device sample rate.
	// If you're using Ebitengine, it's the same value that
	// was used to create an audio context.
	//
	// A zero value will assume a sample rate of 44100.
	SampleRate uint

	// Channels is 1 for mono and 2 for stereo output.
	// Stereo output uses the Amiga hardware panning (voices 0 and 3 go left).
	//
	// A zero value means stereo.
	Channels uint

	// BitDepth is 8 or 16.
	// 8-bit output is unsigned (silence is 0x80), 16-bit output is signed.
	//
	// A zero value means 16.
	BitDepth uint

	// TickRate overrides the replay rate in Hz.
	// Higher values make the music play faster.
	//
	// A zero value will use the song tick rate.
	TickRate uint
}

// NewStream allocates a stream that can load and play COSO songs.
// Use LoadSong method to finish stream initialization.
func NewStream() *Stream {
	return &Stream{
		settings: streamSettings{
			volume: volumeOne,
			muted:  new(atomic.Uint32),
		},
	}
}

// SetEventHandler installs an event listener to the stream.
//
// f is called on every stream event.
//
// Events are produced when the song is being played.
// Therefore, calling Read() may produce multiple events.
// f is called from the goroutine that reads the stream.
func (s *Stream) SetEventHandler(f func(e StreamEvent)) {
	s.settings.eventHandler = f
}

// SetVolume adjusts the global volume scaling for the stream.
// The default value is 1; a value of 0 disables the sound.
// The value is clamped in [0, 1].
func (s *Stream) SetVolume(v float64) {
	s.settings.volume = int32(clamp(v, 0, 1) * volumeOne)
}

// SetVoiceMuted excludes the voice from the mix.
// The voice program keeps running, so unmuting it later
// brings it back in sync with the rest of the song.
func (s *Stream) SetVoiceMuted(voice int, muted bool) {
	if voice < 0 || voice >= 32 {
		return
	}
	for {
		old := s.settings.muted.Load()
		mask := old &^ (1 << voice)
		if muted {
			mask = old | (1 << voice)
		}
		if s.settings.muted.CompareAndSwap(old, mask) {
			return
		}
	}
}

// SetParallelVoices makes the stream interpret the voices concurrently.
// The mixing waits for every voice of the tick, so the output is the
// same as with the sequential interpretation.
//
// This option is only worth enabling for very slow devices
// where the voice interpretation dominates over the mixing.
func (s *Stream) SetParallelVoices(enabled bool) {
	s.settings.parallelVoices = enabled
}

// LoadSong assigns a new COSO song to this stream.
//
// The song is not copied; it must not be modified while the stream uses it.
// Several streams can share the same song.
func (s *Stream) LoadSong(song *cosofile.Song, config LoadSongConfig) error {
	s.applyConfigDefaults(song, &config)

	compiled, err := compileModule(song, moduleConfig{
		sampleRate: config.SampleRate,
		channels:   config.Channels,
		bitDepth:   config.BitDepth,
		tickRate:   config.TickRate,
	})
	if err != nil {
		return err
	}
	s.assignCompiledModule(compiled)

	// Call a rewind() that won't trigger a Sync event.
	s.rewind()

	return nil
}

func (s *Stream) assignCompiledModule(m module) {
	numVoices := len(m.voices)
	if cap(s.voices) < numVoices {
		s.voices = make([]voiceState, numVoices)
		s.frames = make([]VoiceFrame, numVoices)
		s.results = make([]stepResult, numVoices)
		s.channels = make([]streamChannel, numVoices)
	}
	s.voices = s.voices[:numVoices]
	s.frames = s.frames[:numVoices]
	s.results = s.results[:numVoices]
	s.channels = s.channels[:numVoices]
	s.module = m
}

func (s *Stream) applyConfigDefaults(song *cosofile.Song, config *LoadSongConfig) {
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}
	if config.Channels == 0 {
		config.Channels = defaultChannels
	}
	if config.BitDepth == 0 {
		config.BitDepth = defaultBitDepth
	}
	if config.TickRate == 0 {
		config.TickRate = uint(song.TickRate)
		if config.TickRate == 0 {
			config.TickRate = cosodb.DefaultTickRate
		}
	}
}

// Seek partially implements io.Seeker.
//
// You can use it for two things:
//  1. (0, SeekStart) for rewind
//  2. (0, SeekCurrent) to get the byte pos inside the stream
//
// Use SeekTick for any other positioning.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if offset == 0 {
			s.Rewind()
			return 0, nil
		}

	case io.SeekCurrent:
		if offset == 0 {
			return int64(s.bytePos), nil
		}
	}

	return 0, errors.New("unsupported Seek call")
}

// SeekTick positions the stream right before the specified tick.
//
// The voice programs can't be executed backwards or skipped over,
// so this operation replays every tick from the song start.
// The result is identical to rendering and discarding the first n ticks.
//
// If the song ends before the tick n, the stream stays at the song end
// and a non-nil error is returned.
func (s *Stream) SeekTick(n int) error {
	if n < 0 {
		return fmt.Errorf("negative tick %d", n)
	}
	s.rewind()
	s.seeking = true
	pos := 0
	for s.tick < n {
		if !s.nextTick() {
			break
		}
		pos += len(s.buf)
	}
	s.seeking = false
	s.bufPos = len(s.buf)
	s.bytePos = pos
	s.emitSync()
	if s.tick < n {
		return fmt.Errorf("tick %d is past the song end (%d ticks)", n, s.tick)
	}
	return nil
}

// Read puts next PCM bytes into provided slice.
//
// Unlike the tick-based RenderTick, Read can be used with
// slices of any size: the unconsumed part of the tick is kept
// for the next Read call.
//
// When stream has no bytes to produce, io.EOF error is returned.
func (s *Stream) Read(b []byte) (int, error) {
	written := 0
	eof := false

	for len(b) > 0 {
		if s.bufPos == len(s.buf) {
			if !s.nextTick() {
				eof = true
				break
			}
		}
		n := copy(b, s.buf[s.bufPos:])
		s.bufPos += n
		written += n
		b = b[n:]
	}

	s.bytePos += written

	if eof {
		return written, io.EOF
	}
	return written, nil
}

// RenderTick appends the PCM bytes of the next tick to dst.
//
// If a previous Read call left a tick partially consumed,
// RenderTick completes that tick instead of rendering a new one.
//
// The second result is false when the song is over;
// nothing is appended in this case.
func (s *Stream) RenderTick(dst []byte) ([]byte, bool) {
	if s.bufPos == len(s.buf) {
		if !s.nextTick() {
			return dst, false
		}
	}
	rest := s.buf[s.bufPos:]
	s.bufPos = len(s.buf)
	s.bytePos += len(rest)
	return append(dst, rest...), true
}

// Tick reports the number of ticks rendered since the song start.
func (s *Stream) Tick() int { return s.tick }

// IsEnded reports whether every voice is stopped.
func (s *Stream) IsEnded() bool { return s.ended }

// LastFrame returns the voice frame of the last rendered tick.
// The second result is false if the voice was stopped during that tick.
func (s *Stream) LastFrame(voice int) (VoiceFrame, bool) {
	if voice < 0 || voice >= len(s.frames) || s.tick == 0 {
		return VoiceFrame{}, false
	}
	if s.results[voice].status == VoiceStopped {
		return VoiceFrame{}, false
	}
	return s.frames[voice], true
}

// Rewind prepares the stream to play the song right from the start.
// Doing rewind is relatively cheap.
func (s *Stream) Rewind() {
	s.rewind()
	s.emitSync()
}

func (s *Stream) emitSync() {
	s.emit(StreamEvent{
		Kind:  EventSync,
		Voice: -1,
		value: uint64(s.tick),
	})
}

func (s *Stream) rewind() {
	// Make all fields zero-initialized just to be safe.
	// Copying the module object is redundant, but oh well (it's a shallow copy anyway).
	*s = Stream{
		module:   s.module,
		settings: s.settings,
		voices:   s.voices,
		frames:   s.frames,
		results:  s.results,
		channels: s.channels,
		buf:      s.buf[:0],
	}

	// Now initialize the stream to the "ready to start" state.
	for i := range s.voices {
		s.voices[i] = newVoiceState(i)
		s.frames[i] = VoiceFrame{}
		s.results[i] = stepResult{}
		s.channels[i].Reset(i)
	}
}

// GetInfo returns stream-related info.
// See StreamInfo for more details.
func (s *Stream) GetInfo() StreamInfo {
	m := &s.module
	if m.tickRate == 0 {
		return StreamInfo{}
	}
	maxSamples := (m.outputSampleRate + m.tickRate - 1) / m.tickRate
	return StreamInfo{
		BytesPerTick:  uint(maxSamples * m.bytesPerFrame),
		BytesPerFrame: uint(m.bytesPerFrame),
		NumVoices:     uint(len(m.voices)),
		TickRate:      uint(m.tickRate),
		SampleRate:    uint(m.outputSampleRate),
		MemoryUsage:   moduleSize(m),
	}
}

func (s *Stream) emit(e StreamEvent) {
	if s.settings.eventHandler == nil || s.seeking {
		return
	}
	e.Tick = s.tick
	e.Time = ticksToSeconds(s.tick, s.module.tickRate)
	s.settings.eventHandler(e)
}

func (s *Stream) nextTick() bool {
	if s.ended {
		return false
	}

	s.interpretTick()

	numActive := 0
	for i := range s.voices {
		res := &s.results[i]
		s.reportStep(i, res)
		if res.status == VoiceStopped {
			s.channels[i].Stop()
			continue
		}
		numActive++
		s.channels[i].applyFrame(&s.module, &s.frames[i])
	}

	if numActive == 0 {
		s.ended = true
		s.buf = s.buf[:0]
		s.bufPos = 0
		s.emit(StreamEvent{Kind: EventSongEnd, Voice: -1})
		return false
	}

	s.mixTick(s.samplesForTick())
	s.tick++
	return true
}

func (s *Stream) interpretTick() {
	if s.settings.parallelVoices && len(s.voices) > 1 {
		// Every worker only touches its own voice slots.
		var wg sync.WaitGroup
		wg.Add(len(s.voices))
		for i := range s.voices {
			go func(i int) {
				defer wg.Done()
				s.stepVoice(i)
			}(i)
		}
		wg.Wait()
		return
	}
	for i := range s.voices {
		s.stepVoice(i)
	}
}

func (s *Stream) stepVoice(i int) {
	s.voices[i], s.frames[i], s.results[i] = stepVoice(&s.module, s.module.voices[i], s.voices[i])
}

func (s *Stream) reportStep(voice int, res *stepResult) {
	switch {
	case res.badRefOp != cosofile.OpNone:
		s.emit(StreamEvent{
			Kind:  EventBadReference,
			Voice: voice,
			value: packBadReference(res.badRefOp, res.badRefID),
		})
	case res.halted:
		s.emit(StreamEvent{Kind: EventVoiceStopped, Voice: voice})
	}
	if res.stalled && s.stallReported&(1<<voice) == 0 {
		s.stallReported |= 1 << voice
		s.emit(StreamEvent{Kind: EventStall, Voice: voice})
	}
}

// samplesForTick returns the number of output frames for the next tick.
// The remainder is carried over, so the stream never drifts
// from the tick rate.
func (s *Stream) samplesForTick() int {
	s.tickAcc += s.module.outputSampleRate
	n := s.tickAcc / s.module.tickRate
	s.tickAcc -= n * s.module.tickRate
	return n
}

func (s *Stream) mixTick(numFrames int) {
	// This function dominates the music rendering execution time.
	// The output format switch is done once per tick, not per frame.

	size := numFrames * s.module.bytesPerFrame
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	s.bufPos = 0

	b := s.buf
	volume := s.settings.volume
	muted := s.settings.muted.Load()
	stereo := s.module.numChannels == 2
	wide := s.module.bytesPerSample == 2

	for i := 0; i < len(b); i += s.module.bytesPerFrame {
		var left, right int32
		for j := range s.channels {
			ch := &s.channels[j]
			if !ch.active {
				continue
			}
			v := (ch.NextSample() * ch.volume) >> 6
			if muted&(1<<j) != 0 {
				continue
			}
			if ch.left || !stereo {
				left += v
			} else {
				right += v
			}
		}
		left = clampSample((left * volume) >> 8)
		right = clampSample((right * volume) >> 8)

		switch {
		case wide && stereo:
			putPCM16(b[i:], left)
			putPCM16(b[i+2:], right)
		case wide:
			putPCM16(b[i:], left)
		case stereo:
			b[i] = pcm8(left)
			b[i+1] = pcm8(right)
		default:
			b[i] = pcm8(left)
		}
	}
}

// silenceByte is the byte value that represents a zero sample point.
func (m *module) silenceByte() byte {
	if m.bytesPerSample == 1 {
		return 0x80
	}
	return 0
}
