package columns

import "math/bits"

// RaftCount is the number of raft positions in the focal plane mask.
const RaftCount = 25

const raftBits = 1<<RaftCount - 1

// CountRafts returns how many of mask's low 25 bits are set. Higher bits are
// ignored; a negative mask is read as two's complement.
func CountRafts(mask int64) int {
	return bits.OnesCount32(uint32(mask) & raftBits)
}
