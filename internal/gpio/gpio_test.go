package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// New requires a real /dev/gpiomem device, so only the bit-level and
// error-path helpers are exercised here; the mapped sampler itself is
// covered by running the appliance on target hardware.

func TestBitIsActiveLow(t *testing.T) {
	var val uint32 = 0
	assert.True(t, bit(val, 3), "a clear bit means pressed")

	val = 1 << 3
	assert.False(t, bit(val, 3), "a set bit means not pressed")
}

func TestInvalidPinError(t *testing.T) {
	err := &InvalidPinError{Pin: 99}
	assert.Contains(t, err.Error(), "99")
}
