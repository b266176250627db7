package columns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func naiveCount(mask int64) int {
	n := 0
	for i := 0; i < RaftCount; i++ {
		if mask>>i&1 == 1 {
			n++
		}
	}
	return n
}

func TestCountRafts(t *testing.T) {
	tests := []struct {
		name string
		mask int64
		want int
	}{
		{"empty", 0, 0},
		{"single", 1, 1},
		{"two low bits", 3, 2},
		{"top raft", 1 << 24, 1},
		{"full focal plane", 1<<25 - 1, 25},
		{"bit 25 ignored", 1 << 25, 0},
		{"high bits ignored", 1<<40 | 1<<25 | 5, 2},
		{"negative one", -1, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountRafts(tt.mask))
		})
	}
}

func TestCountRaftsMatchesBitLoop(t *testing.T) {
	for _, mask := range []int64{0x155_5555, 0x0AA_AAAA, 0x123_4567, 0x1FF_0000, 0x7FFF_FFFF, -2, -1 << 24} {
		assert.Equal(t, naiveCount(mask), CountRafts(mask), "mask=%#x", mask)
	}
}
