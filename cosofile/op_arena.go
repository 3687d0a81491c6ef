package cosofile

// opArena allocates the voice program op slices from big blocks.
// A song has a few short programs, so one block usually serves
// several parsed songs.
//
// The returned slices are capped: appending to them never
// touches the memory that was handed out to another program.
type opArena struct {
	block     []Op
	blockSize int
}

func (a *opArena) init(blockSize int) {
	a.blockSize = blockSize
}

func (a *opArena) alloc(n int) []Op {
	if n > a.blockSize/4 {
		// Large programs would waste most of the block.
		return make([]Op, n)
	}
	if len(a.block) < n {
		a.block = make([]Op, a.blockSize)
	}
	ops := a.block[:n:n]
	a.block = a.block[n:]
	return ops
}
