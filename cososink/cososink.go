// Package cososink implements the coso.Sink adapters
// for the PCM chunks produced by the coso.Player.
package cososink

import (
	"fmt"
)

// Format describes the PCM chunks layout.
// It should match the coso.LoadSongConfig that was used for the player.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if f.BitDepth != 8 && f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

func (f Format) bytesPerSample() int { return f.BitDepth / 8 }
