package queue

import (
	"testing"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {

	fixed := DefaultRetryPolicy()
	assert.Equal(t, 5*time.Second, fixed.Delay(1))
	assert.Equal(t, 5*time.Second, fixed.Delay(7))

	exp := RetryPolicy{Strategy: StrategyExponential, Interval: time.Second, MaxInterval: 10 * time.Second}
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 2*time.Second, exp.Delay(2))
	assert.Equal(t, 4*time.Second, exp.Delay(3))
	assert.Equal(t, 10*time.Second, exp.Delay(6))
}

func TestRetryPolicy_Terminal(t *testing.T) {

	p := DefaultRetryPolicy()
	p.PermanentAckCodes = []string{"9"}

	terminal, _ := p.Terminal(&vfd.NetworkError{Op: vfd.OpReceipt, Err: errors.New("dial")}, 1)
	assert.False(t, terminal)

	terminal, _ = p.Terminal(&vfd.AckError{Code: "7"}, 3)
	assert.False(t, terminal)

	terminal, reason := p.Terminal(&vfd.AckError{Code: "9"}, 1)
	assert.True(t, terminal)
	assert.Contains(t, reason, "9")

	terminal, _ = p.Terminal(errors.Wrap(vfd.ErrSigning, "bad key"), 1)
	assert.True(t, terminal)

	terminal, reason = p.Terminal(&vfd.AckError{Code: "7"}, 20)
	assert.True(t, terminal)
	assert.Equal(t, "attempt limit reached", reason)

	p.MaxAttempts = 0
	terminal, _ = p.Terminal(&vfd.AckError{Code: "7"}, 1000)
	assert.False(t, terminal)
}
