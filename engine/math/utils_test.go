package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(uint64(0), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(1), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint64(512), AlignUp(uint64(257), 256))
	assert.Equal(t, uint32(7), AlignUp(uint32(7), 1))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.False(t, IsPowerOfTwo(uint64(0)))
	assert.True(t, IsPowerOfTwo(uint64(1)))
	assert.True(t, IsPowerOfTwo(uint64(256)))
	assert.False(t, IsPowerOfTwo(uint64(96)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
	assert.Equal(t, 1, Clamp(7, 0, 1))
	assert.Equal(t, -2, Clamp(-9, -2, 3))
}
