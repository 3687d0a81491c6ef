package cosofile

import (
	"bytes"
)

// FindSongs returns the offsets of every song header found in the blob.
//
// Game archives store several songs back to back inside of a single
// music file, each one starting with a COSO magic.
// Use the returned offsets with ParseAt; the index in this slice
// is the song id.
func FindSongs(blob []byte) []int {
	var offsets []int
	pos := 0
	for {
		i := bytes.Index(blob[pos:], magic[:])
		if i == -1 {
			break
		}
		offsets = append(offsets, pos+i)
		pos += i + len(magic)
	}
	return offsets
}

// ParseAt parses a song that starts at the given blob offset.
// The song offsets are relative to its own header.
func (p *Parser) ParseAt(blob []byte, offset int) (*Song, error) {
	if offset < 0 || offset > len(blob) {
		return nil, &ParseError{
			Kind:    ErrMalformedSong,
			Message: "song offset is outside of the blob",
			Offset:  offset,
		}
	}
	return p.ParseFromBytes(blob[offset:])
}
