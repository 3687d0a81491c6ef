package coso

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quasilyte/coso/cosofile"
)

// chunkRecorder is a sink that keeps copies of all chunks.
type chunkRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
	delay  time.Duration
	err    error
	failAt int
}

func (r *chunkRecorder) WriteChunk(chunk []byte) error {
	if r.delay != 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil && len(r.chunks) == r.failAt {
		return r.err
	}
	r.chunks = append(r.chunks, bytes.Clone(chunk))
	return nil
}

func (r *chunkRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func (r *chunkRecorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Join(r.chunks, nil)
}

func (r *chunkRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
}

func waitChunks(t *testing.T, r *chunkRecorder, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d chunks", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func shortSong(t testing.TB) *cosofile.Song {
	return newTestSong(t,
		[]cosofile.Op{
			op(cosofile.OpSetInstrument, 0),
			op(cosofile.OpSetNote, 24),
			op(cosofile.OpWait, 20),
			op(cosofile.OpEnd),
		},
		[]cosofile.Op{
			op(cosofile.OpSetInstrument, 2),
			op(cosofile.OpSetNote, 30),
			op(cosofile.OpWait, 12),
			op(cosofile.OpNoteOff),
			op(cosofile.OpWait, 4),
			op(cosofile.OpEnd),
		},
	)
}

func padChunks(b []byte, chunkSize int) []byte {
	for len(b)%chunkSize != 0 {
		b = append(b, 0)
	}
	return b
}

func TestPlayerOutput(t *testing.T) {
	song := shortSong(t)
	want := padChunks(renderTicks(newTestStream(t, song, LoadSongConfig{}), 1000), 4096)

	tests := []struct {
		name   string
		config PlayerConfig
		delay  time.Duration
	}{
		{"default", PlayerConfig{}, 0},
		{"slow sink", PlayerConfig{BufferedChunks: 1}, time.Millisecond},
		{"parallel", PlayerConfig{ParallelVoices: true}, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sink := &chunkRecorder{delay: test.delay}
			p, err := NewPlayer(song, sink, test.config)
			if err != nil {
				t.Fatal(err)
			}
			if err := p.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			if err := p.Wait(); err != nil {
				t.Fatal(err)
			}
			if p.IsPlaying() {
				t.Fatal("the player is still playing after the song end")
			}
			for i, chunk := range sink.chunks {
				if len(chunk) != 4096 {
					t.Fatalf("chunk %d: unexpected size %d", i, len(chunk))
				}
			}
			if !bytes.Equal(sink.Bytes(), want) {
				t.Fatal("player output differs from the stream output")
			}
			if p.Tick() != 20 {
				t.Fatalf("expected 20 ticks, got %d", p.Tick())
			}
		})
	}
}

func TestPlayerChunkSize(t *testing.T) {
	song := shortSong(t)
	sink := &chunkRecorder{}
	p, err := NewPlayer(song, sink, PlayerConfig{
		LoadSongConfig: LoadSongConfig{Channels: 2, BitDepth: 16},
		ChunkSize:      1001,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, chunk := range sink.chunks {
		if len(chunk) != 1000 {
			t.Fatalf("chunk %d: expected a frame-aligned size 1000, got %d", i, len(chunk))
		}
	}
}

func TestPlayerStop(t *testing.T) {
	song := newTestSong(t, musicPrograms()...)
	sink := &chunkRecorder{}
	p, err := NewPlayer(song, sink, PlayerConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrPlaying) {
		t.Fatalf("expected ErrPlaying, got %v", err)
	}
	waitChunks(t, sink, 3)
	p.Stop()

	if p.IsPlaying() {
		t.Fatal("the player is still playing after Stop")
	}
	if p.Tick() != 0 {
		t.Fatalf("expected Stop to reset the position, got tick %d", p.Tick())
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Stop is not an error, got %v", err)
	}
	first := sink.chunks[0]

	sink.Reset()
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitChunks(t, sink, 1)
	p.Stop()
	if !bytes.Equal(sink.chunks[0], first) {
		t.Fatal("the restarted player didn't start from the beginning")
	}

	// Stopping a stopped player is a no-op.
	p.Stop()
}

func TestPlayerContextCancel(t *testing.T) {
	song := newTestSong(t, musicPrograms()...)
	sink := &chunkRecorder{}
	p, err := NewPlayer(song, sink, PlayerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitChunks(t, sink, 1)
	cancel()
	if err := p.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.IsPlaying() {
		t.Fatal("the player is still playing after the cancellation")
	}
}

func TestPlayerSinkError(t *testing.T) {
	song := newTestSong(t, musicPrograms()...)
	errSink := errors.New("device is gone")
	sink := &chunkRecorder{err: errSink, failAt: 2}
	p, err := NewPlayer(song, sink, PlayerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); !errors.Is(err, errSink) {
		t.Fatalf("expected the sink error, got %v", err)
	}
	if sink.Len() != 2 {
		t.Fatalf("expected 2 written chunks, got %d", sink.Len())
	}
}

func TestPlayerSeekToTick(t *testing.T) {
	song := shortSong(t)

	s := newTestStream(t, song, LoadSongConfig{})
	if err := s.SeekTick(7); err != nil {
		t.Fatal(err)
	}
	want := padChunks(renderTicks(s, 1000), 4096)

	sink := &chunkRecorder{}
	p, err := NewPlayer(song, sink, PlayerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SeekToTick(7); err != nil {
		t.Fatal(err)
	}
	if p.Tick() != 7 {
		t.Fatalf("expected tick 7, got %d", p.Tick())
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sink.Bytes(), want) {
		t.Fatal("player output after a seek differs from the stream output")
	}

	if err := p.SeekToTick(-1); err == nil {
		t.Fatal("expected an error for a negative tick")
	}
	if err := p.SeekToTick(100); err == nil {
		t.Fatal("expected an error for a tick past the song end")
	}
}

func TestPlayerSeekWhilePlaying(t *testing.T) {
	song := shortSong(t)

	ref := newTestStream(t, song, LoadSongConfig{})
	tickSize := int(ref.GetInfo().BytesPerTick)
	var ticks [][]byte
	for {
		tick, ok := ref.RenderTick(nil)
		if !ok {
			break
		}
		ticks = append(ticks, tick)
	}
	if err := ref.SeekTick(12); err != nil {
		t.Fatal(err)
	}
	afterSeek := renderTicks(ref, 1000)

	// Every chunk is exactly one tick, the sink is slow:
	// the seek is requested while the player is a few ticks ahead.
	rec := &chunkRecorder{delay: time.Millisecond}
	var p *Player
	seekDone := false
	sink := SinkFunc(func(chunk []byte) error {
		if !seekDone {
			seekDone = true
			if err := p.SeekToTick(12); err != nil {
				return err
			}
		}
		return rec.WriteChunk(chunk)
	})
	p, err := NewPlayer(song, sink, PlayerConfig{ChunkSize: tickSize, BufferedChunks: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}

	numBefore := rec.Len() - (len(ticks) - 12)
	if numBefore < 1 || numBefore >= 12 {
		t.Fatalf("unexpected number of chunks rendered before the seek: %d", numBefore)
	}
	for i := 0; i < numBefore; i++ {
		if !bytes.Equal(rec.chunks[i], ticks[i]) {
			t.Fatalf("chunk %d differs from the stream tick", i)
		}
	}
	if !bytes.Equal(bytes.Join(rec.chunks[numBefore:], nil), afterSeek) {
		t.Fatal("player output after a seek differs from the stream output")
	}
	if p.Tick() != len(ticks) {
		t.Fatalf("expected tick %d, got %d", len(ticks), p.Tick())
	}
}

func TestPlayerRealtime(t *testing.T) {
	song := shortSong(t)
	config := LoadSongConfig{TickRate: 200}
	want := padChunks(renderTicks(newTestStream(t, song, config), 1000), 4096)

	sink := &chunkRecorder{}
	p, err := NewPlayer(song, sink, PlayerConfig{LoadSongConfig: config, Realtime: true})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	// 20 ticks at 200 Hz.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("realtime playback is too fast: %v", elapsed)
	}
	if !bytes.Equal(sink.Bytes(), want) {
		t.Fatal("realtime player output differs from the stream output")
	}
}

func TestPlayerNegativeChunkSize(t *testing.T) {
	song := shortSong(t)
	sink := &chunkRecorder{}
	p, err := NewPlayer(song, sink, PlayerConfig{ChunkSize: -4})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(sink.chunks) == 0 || len(sink.chunks[0]) != 4096 {
		t.Fatal("a negative chunk size must fall back to the default")
	}
}
