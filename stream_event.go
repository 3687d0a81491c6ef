package coso

import (
	"github.com/quasilyte/coso/cosofile"
)

// StreamEventKind is an event tag that should be used to differentiate between different event types.
// See StreamEvent docs for more info.
type StreamEventKind int

const (
	// EventUnknown is a sentinel value.
	// You should never receive an event of this kind.
	EventUnknown StreamEventKind = iota

	// EventBadReference is emitted when a voice program refers to an instrument
	// or a sample that doesn't exist. The voice is silenced for the rest of the run,
	// other voices keep playing.
	//
	// This event is reported at most once per voice.
	//
	// Use StreamEvent.BadReferenceData or StreamEvent.Err to get the event data.
	EventBadReference

	// EventVoiceStopped is emitted when a voice program reaches its end op.
	EventVoiceStopped

	// EventStall is emitted when a voice executed too many ops during a single tick.
	// This usually means that the program has a loop without any waits.
	// The tick is cut short and the playback continues.
	//
	// This event is reported at most once per voice.
	EventStall

	// EventSongEnd is emitted after every voice is stopped.
	// There will be no more audio until the stream is rewinded.
	EventSongEnd

	// EventSync tells the application to update their time counter to the specified value.
	// It's emitted after Rewind and seek operations.
	//
	// Use StreamEvent.SyncEventData to get the event data.
	EventSync
)

func (k StreamEventKind) String() string {
	switch k {
	case EventBadReference:
		return "BadReference"
	case EventVoiceStopped:
		return "VoiceStopped"
	case EventStall:
		return "Stall"
	case EventSongEnd:
		return "SongEnd"
	case EventSync:
		return "Sync"
	default:
		return "Unknown"
	}
}

// StreamEvent holds a single Stream event data.
// This object is an argument to the Stream.SetEventHandler function.
//
// To handle the event correctly, you must first check its kind.
type StreamEvent struct {
	Kind StreamEventKind

	// Voice is an event voice ID.
	// It's -1 for the song-wide events.
	Voice int

	// Tick is the number of the tick that produced this event.
	Tick int

	// Time represents the playback offset in seconds.
	// It's derived from Tick and the song tick rate.
	Time float64

	value uint64
}

// BadReferenceData returns the event data if e.Kind=EventBadReference.
// The return values are: the op that had an invalid operand and the operand itself.
func (e StreamEvent) BadReferenceData() (op cosofile.OpKind, id int) {
	return cosofile.OpKind(e.value & 0xff), int(e.value >> 8)
}

// SyncEventData returns the event data if e.Kind=EventSync.
// The return value is the tick to synchronize to.
func (e StreamEvent) SyncEventData() (tick int) {
	return int(e.value)
}

// Err returns a non-nil error for the events that describe a song data problem.
// The result can be checked with errors.Is(err, cosofile.ErrBadReference).
func (e StreamEvent) Err() error {
	if e.Kind != EventBadReference {
		return nil
	}
	op, id := e.BadReferenceData()
	return newBadReferenceError(e.Voice, op, id)
}

func packBadReference(op cosofile.OpKind, id int) uint64 {
	return uint64(op) | uint64(id)<<8
}
