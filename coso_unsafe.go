package coso

import (
	"unsafe"

	"github.com/quasilyte/coso/cosofile"
)

func moduleSize(m *module) uint {
	memoryUsage := len(m.song.SampleBank)
	for _, v := range m.voices {
		memoryUsage += len(v.Ops) * int(unsafe.Sizeof(cosofile.Op{}))
		memoryUsage += len(v.Code)
	}
	memoryUsage += len(m.instruments) * int(unsafe.Sizeof(cosofile.Instrument{}))
	memoryUsage += len(m.samples) * int(unsafe.Sizeof(sample{}))

	return uint(memoryUsage)
}
