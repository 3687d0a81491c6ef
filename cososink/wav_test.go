package cososink

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWAV(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	format := Format{SampleRate: 22050, Channels: 2, BitDepth: 16}
	sink, err := NewWAV(f, format)
	if err != nil {
		t.Fatal(err)
	}

	var want []int
	for i := 0; i < 2; i++ {
		chunk := make([]byte, 400)
		for j := 0; j < len(chunk); j += 2 {
			v := int16((i*1000 + j*37) - 12000)
			binary.LittleEndian.PutUint16(chunk[j:], uint16(v))
			want = append(want, int(v))
		}
		if err := sink.WriteChunk(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	d := wav.NewDecoder(r)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if d.SampleRate != 22050 || d.NumChans != 2 || d.BitDepth != 16 {
		t.Fatalf("unexpected format: rate=%d channels=%d bits=%d", d.SampleRate, d.NumChans, d.BitDepth)
	}
	if len(buf.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], buf.Data[i])
		}
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		format Format
		valid  bool
	}{
		{Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, true},
		{Format{SampleRate: 8000, Channels: 1, BitDepth: 8}, true},
		{Format{SampleRate: 0, Channels: 2, BitDepth: 16}, false},
		{Format{SampleRate: 44100, Channels: 3, BitDepth: 16}, false},
		{Format{SampleRate: 44100, Channels: 2, BitDepth: 24}, false},
	}
	for _, test := range tests {
		err := test.format.validate()
		if (err == nil) != test.valid {
			t.Errorf("%+v: unexpected validation result: %v", test.format, err)
		}
	}
}
