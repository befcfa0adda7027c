package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_NowMsStrictlyIncreases(t *testing.T) {
	c := NewClock()
	var last int64
	for i := 0; i < 1000; i++ {
		ms := c.NowMs()
		assert.Greater(t, ms, last)
		last = ms
	}
}

func TestClock_BeforeDoesNotAffectFutureCalls(t *testing.T) {
	c := NewClock()
	toolTs := c.NowMs()
	segmentTs := c.Before(toolTs)
	assert.Equal(t, toolTs-1, segmentTs)

	next := c.NowMs()
	assert.Greater(t, next, toolTs)
}
