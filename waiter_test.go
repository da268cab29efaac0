package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransmissionTime(t *testing.T) {
	require.Equal(t, time.Second, TransmissionTime(960, 9600))
	require.Equal(t, 10*time.Millisecond, TransmissionTime(96, 96000))
	require.Equal(t, time.Duration(0), TransmissionTime(10, 0))
	require.Equal(t, time.Duration(0), TransmissionTime(0, 9600))
}

func TestPollInterval(t *testing.T) {
	require.Equal(t, 5*time.Millisecond, PollInterval(100*time.Millisecond, 0))
	require.Equal(t, DefaultMaxPollInterval, PollInterval(10*time.Second, 0))
	require.Equal(t, 20*time.Millisecond, PollInterval(10*time.Second, 20*time.Millisecond))
	require.Equal(t, DefaultMaxPollInterval, PollInterval(0, 0))
	require.Equal(t, time.Millisecond, PollInterval(-time.Second, time.Millisecond))
}

func TestCooperativeWaiter_PollsUntilFired(t *testing.T) {
	c := newCompletion(200*time.Millisecond, nil)
	var slept []time.Duration
	w := CooperativeWaiter{
		Sleep: func(d time.Duration) {
			slept = append(slept, d)
			if len(slept) == 3 {
				c.resolve([]byte("ok"), nil)
			}
		},
	}
	w.Wait(c)
	require.True(t, c.Fired())
	require.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}, slept)
}

func TestCooperativeWaiter_EstimateOverride(t *testing.T) {
	c := newCompletion(0, nil)
	var slept time.Duration
	w := CooperativeWaiter{
		Estimate:    func(*Completion) time.Duration { return 2 * time.Second },
		MaxInterval: time.Second,
		Sleep: func(d time.Duration) {
			slept = d
			c.resolve(nil, nil)
		},
	}
	w.Wait(c)
	require.Equal(t, 100*time.Millisecond, slept)
}

func TestWaiters_ReturnOnceFired(t *testing.T) {
	for name, w := range map[string]Waiter{
		"direct":      DirectWaiter{},
		"future":      FutureWaiter{},
		"cooperative": CooperativeWaiter{MaxInterval: time.Millisecond},
	} {
		t.Run(name, func(t *testing.T) {
			c := newCompletion(0, nil)
			time.AfterFunc(20*time.Millisecond, func() { c.resolve([]byte("x"), nil) })
			w.Wait(c)
			require.True(t, c.Fired())
			data, err := c.Result()
			require.NoError(t, err)
			require.Equal(t, []byte("x"), data)
		})
	}
}
