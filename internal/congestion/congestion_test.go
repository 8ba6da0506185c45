package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlowStartIgnoresACKUntilLoss(t *testing.T) {
	c := NewLiveController(1456, 0)
	before := c.SndPeriod()
	c.OnACK(10*time.Millisecond, 5000)
	assert.Equal(t, before, c.SndPeriod(), "slow-start period should not react to ACKs")
}

func TestLossEndsSlowStartAndACKUpdatesPeriod(t *testing.T) {
	c := NewLiveController(1456, 0)
	c.OnLoss(1)
	c.OnACK(10*time.Millisecond, 1000)
	assert.Equal(t, time.Second/1000, c.SndPeriod())
}

func TestMaxBWCapsRate(t *testing.T) {
	c := NewLiveController(1456, 500)
	c.OnLoss(1)
	c.OnACK(10*time.Millisecond, 10000)
	assert.Equal(t, time.Second/500, c.SndPeriod())
}
