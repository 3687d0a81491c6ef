package coso

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quasilyte/coso/cosofile"
	"golang.org/x/sync/errgroup"
)

// Sink receives the rendered PCM chunks.
//
// The chunk memory is reused after WriteChunk returns,
// so the sink must copy the bytes it wants to keep.
// A blocking WriteChunk slows down the producer, no chunks are dropped.
type Sink interface {
	WriteChunk(chunk []byte) error
}

// SinkFunc is an adapter to allow the use of ordinary functions as a Sink.
type SinkFunc func(chunk []byte) error

func (f SinkFunc) WriteChunk(chunk []byte) error { return f(chunk) }

// PlayerConfig configures the Player.
type PlayerConfig struct {
	LoadSongConfig

	// ChunkSize is the size of every chunk passed to the sink in bytes.
	// It's rounded down to the output frame size.
	// The last chunk of the song is padded with silence.
	//
	// A zero value means 4096.
	ChunkSize int

	// BufferedChunks is the number of rendered chunks
	// that can wait for the sink.
	//
	// A zero value means 4.
	BufferedChunks int

	// Realtime makes the player render ticks at the tick rate.
	// Without it, the ticks are rendered as fast as the sink accepts them.
	Realtime bool

	// ParallelVoices is Stream.SetParallelVoices for the underlying stream.
	ParallelVoices bool

	// EventHandler is Stream.SetEventHandler for the underlying stream.
	// It's called from the player goroutine.
	EventHandler func(e StreamEvent)
}

// Player drives the song stream from its own goroutine
// and forwards fixed-size chunks to the sink.
//
// Player methods can be called from any goroutine.
type Player struct {
	sink   Sink
	stream *Stream
	config PlayerConfig

	silence byte

	tick atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	playing  bool
	stopping bool

	// seekRequest is -1 unless there is a pending seek.
	seekRequest int
}

// ErrPlaying is returned by Start if the player is already started.
var ErrPlaying = errors.New("player is already playing")

// NewPlayer creates a stopped player for the song.
func NewPlayer(song *cosofile.Song, sink Sink, config PlayerConfig) (*Player, error) {
	stream := NewStream()
	if err := stream.LoadSong(song, config.LoadSongConfig); err != nil {
		return nil, err
	}
	stream.SetParallelVoices(config.ParallelVoices)
	stream.SetEventHandler(config.EventHandler)

	frameSize := stream.module.bytesPerFrame
	if config.ChunkSize <= 0 {
		config.ChunkSize = 4096
	}
	config.ChunkSize -= config.ChunkSize % frameSize
	if config.ChunkSize == 0 {
		config.ChunkSize = frameSize
	}
	if config.BufferedChunks <= 0 {
		config.BufferedChunks = 4
	}

	p := &Player{
		sink:        sink,
		stream:      stream,
		config:      config,
		silence:     stream.module.silenceByte(),
		seekRequest: -1,
	}
	return p, nil
}

// Stream returns the underlying stream.
// It can only be used while the player is stopped.
func (p *Player) Stream() *Stream { return p.stream }

// Start begins the playback from the current position.
// The playback ends when the song is over, Stop is called or ctx is cancelled.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		return ErrPlaying
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil
	p.playing = true

	go p.run(ctx, cancel, p.done)
	return nil
}

// Stop ends the playback right after the current tick.
// The chunks that were not written to the sink yet are discarded.
//
// The voice state is discarded: the next Start plays the song from the beginning.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.stopping = true
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.mu.Lock()
	p.stopping = false
	p.stream.rewind()
	p.seekRequest = -1
	p.tick.Store(0)
	p.mu.Unlock()
}

// Wait blocks until the playback is over.
// It returns the sink error, if any.
// A cancelled context (but not Stop) is reported as ctx.Err().
func (p *Player) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// SeekToTick moves the playback position to the specified tick.
//
// When the player is playing, the seek is performed by the player
// goroutine at the next tick boundary.
// Seeking past the song end ends the playback.
func (p *Player) SeekToTick(n int) error {
	if n < 0 {
		return errors.New("negative tick")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		p.seekRequest = n
		return nil
	}
	err := p.stream.SeekTick(n)
	p.tick.Store(int64(p.stream.Tick()))
	return err
}

// Tick reports the number of ticks rendered so far.
// This value is ahead of what the sink actually played.
func (p *Player) Tick() int { return int(p.tick.Load()) }

// IsPlaying reports whether the player goroutine is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)

	err := p.play(ctx)
	cancel()

	p.mu.Lock()
	if err == nil && ctx.Err() != nil && !p.stopping {
		// Stop is a normal way to end the playback,
		// but the caller context cancellation is reported.
		err = ctx.Err()
	}
	p.err = err
	p.playing = false
	p.cancel = nil
	p.mu.Unlock()
}

func (p *Player) play(ctx context.Context) error {
	chunks := make(chan []byte, p.config.BufferedChunks)
	free := make(chan []byte, p.config.BufferedChunks+2)
	for i := 0; i < cap(free); i++ {
		free <- make([]byte, 0, p.config.ChunkSize)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		return p.produce(gctx, chunks, free)
	})

	g.Go(func() error {
		for chunk := range chunks {
			if gctx.Err() != nil {
				// Drain the channel so the producer can't block.
				continue
			}
			if err := p.sink.WriteChunk(chunk); err != nil {
				return err
			}
			free <- chunk[:0]
		}
		return nil
	})

	return g.Wait()
}

func (p *Player) produce(ctx context.Context, chunks chan<- []byte, free <-chan []byte) error {
	var ticker *time.Ticker
	if p.config.Realtime {
		ticker = time.NewTicker(time.Second / time.Duration(p.stream.module.tickRate))
		defer ticker.Stop()
	}

	var chunk []byte
	select {
	case chunk = <-free:
	case <-ctx.Done():
		return nil
	}

	send := func() bool {
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return false
		}
		select {
		case chunk = <-free:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var tickBuf []byte
	for {
		// Stop is only observed between the ticks.
		if ctx.Err() != nil {
			return nil
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
		}
		p.applySeekRequest()

		var ok bool
		tickBuf, ok = p.stream.RenderTick(tickBuf[:0])
		if !ok {
			break
		}
		p.tick.Store(int64(p.stream.Tick()))

		rest := tickBuf
		for len(rest) > 0 {
			n := copy(chunk[len(chunk):cap(chunk)], rest)
			chunk = chunk[:len(chunk)+n]
			rest = rest[n:]
			if len(chunk) == cap(chunk) {
				if !send() {
					return nil
				}
			}
		}
	}

	if len(chunk) != 0 {
		for len(chunk) < cap(chunk) {
			chunk = append(chunk, p.silence)
		}
		select {
		case chunks <- chunk:
		case <-ctx.Done():
		}
	}
	return nil
}

func (p *Player) applySeekRequest() {
	p.mu.Lock()
	n := p.seekRequest
	p.seekRequest = -1
	p.mu.Unlock()

	if n < 0 {
		return
	}
	// An error means that the stream is at the song end now.
	// The next RenderTick call will finish the playback.
	_ = p.stream.SeekTick(n)
	p.tick.Store(int64(p.stream.Tick()))
}
