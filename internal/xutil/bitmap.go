package xutil

// BitMap is a fixed-size bitset. Neither the register allocator nor the IR
// dead-code pass uses it.
type BitMap struct {
	data []uint8
	size int
}

func NewBitMap(size int) *BitMap {
	return &BitMap{
		data: make([]uint8, (size+7)/8),
		size: size,
	}
}

func (bm *BitMap) Size() int { return bm.size }

func (bm *BitMap) Set(i int) {
	bm.data[i/8] |= 1 << uint(i%8)
}

func (bm *BitMap) Reset(i int) {
	bm.data[i/8] &^= 1 << uint(i%8)
}

func (bm *BitMap) IsSet(i int) bool {
	return bm.data[i/8]&(1<<uint(i%8)) != 0
}

func (bm *BitMap) Unite(o *BitMap) bool {
	Assert(bm.size == o.size, "bitmap size mismatch")
	changed := false
	for i := range bm.data {
		nv := bm.data[i] | o.data[i]
		if nv != bm.data[i] {
			bm.data[i] = nv
			changed = true
		}
	}
	return changed
}

func (bm *BitMap) Intersect(o *BitMap) bool {
	Assert(bm.size == o.size, "bitmap size mismatch")
	changed := false
	for i := range bm.data {
		nv := bm.data[i] & o.data[i]
		if nv != bm.data[i] {
			bm.data[i] = nv
			changed = true
		}
	}
	return changed
}

func (bm *BitMap) Copy() *BitMap {
	d := make([]uint8, len(bm.data))
	copy(d, bm.data)
	return &BitMap{data: d, size: bm.size}
}
