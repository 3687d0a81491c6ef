package cososink

import (
	"errors"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Device is a sink that plays the chunks with the default audio device.
//
// WriteChunk blocks until the device consumes the chunk,
// so the player is naturally paced by the device.
//
// Only one Device can exist per process.
type Device struct {
	ctx    *oto.Context
	player *oto.Player

	pr *io.PipeReader
	pw *io.PipeWriter

	mutex  sync.Mutex
	closed bool
}

// NewDevice initializes the audio device with the given format.
// It blocks until the device is ready.
func NewDevice(format Format) (*Device, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	if format.BitDepth == 8 {
		op.Format = oto.FormatUnsignedInt8
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	pr, pw := io.Pipe()
	d := &Device{
		ctx: ctx,
		pr:  pr,
		pw:  pw,
	}
	d.player = ctx.NewPlayer(pr)
	d.player.Play()
	return d, nil
}

// WriteChunk implements coso.Sink.
func (d *Device) WriteChunk(chunk []byte) error {
	_, err := d.pw.Write(chunk)
	if errors.Is(err, io.ErrClosedPipe) {
		return errors.New("device is closed")
	}
	return err
}

// Close stops the playback.
// The chunks that are still buffered by the device are discarded.
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.pw.Close()
	err := d.player.Close()
	d.pr.Close()
	return err
}
