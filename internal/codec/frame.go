package codec

// Packet is one compressed access unit.
type Packet struct {
	Data []byte
	PTS  int64
	DTS  int64
	Key  bool
}

// Frame is one decoded picture. Planes hold the pixel data per plane with
// Strides bytes per row.
type Frame struct {
	Width   int
	Height  int
	Format  string // pixel format, e.g. "yuv420p"
	PTS     int64
	Key     bool
	Planes  [][]byte
	Strides []int
}

// Clone returns a deep copy that shares no memory with f.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Planes = make([][]byte, len(f.Planes))
	for i, p := range f.Planes {
		c.Planes[i] = append([]byte(nil), p...)
	}
	c.Strides = append([]int(nil), f.Strides...)
	return &c
}

// Size is the total pixel payload in bytes.
func (f *Frame) Size() int {
	n := 0
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}
