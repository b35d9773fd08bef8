package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert.InDelta(t, 0.75, ratio(3, 4), 0.001)
	assert.Equal(t, 0.0, ratio(3, 0), "empty denominator is reported as 0")
	assert.Equal(t, 1.0, ratio(10, 10))
}

func TestEstimateActiveInstalls(t *testing.T) {
	// 7500 calls over 30 days at 25 calls/install/day -> 10 installs
	assert.Equal(t, int64(10), estimateActiveInstalls(7500, 30))

	assert.Equal(t, int64(0), estimateActiveInstalls(10, 30), "low volume rounds down")
	assert.Equal(t, int64(0), estimateActiveInstalls(100, 0))
}

func TestDeref(t *testing.T) {
	v := 12.5
	assert.Equal(t, 12.5, deref(&v))
	assert.Equal(t, 0.0, deref(nil))
}
