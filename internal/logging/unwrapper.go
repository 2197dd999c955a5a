package logging

// Unwrapper extends 16 bit sequence numbers to 64 bits. A step of less than
// half the sequence space in either direction is taken as the shortest path,
// so wraparound from 65535 to 0 keeps counting upwards.
type Unwrapper struct {
	started bool
	last    uint16
	value   int64
}

func (u *Unwrapper) Unwrap(seq uint16) int64 {
	if !u.started {
		u.started = true
		u.last = seq
		u.value = int64(seq)
		return u.value
	}
	u.value += int64(int16(seq - u.last))
	u.last = seq
	return u.value
}
