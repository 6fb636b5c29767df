package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStamper_StrictlyIncreasingWithinOneMillisecond(t *testing.T) {
	s := NewWithNow(func() int64 { return 1000 })

	a := s.Next("u1")
	b := s.Next("u1")
	c := s.Next("u1")

	require.Equal(t, int64(1000), a)
	require.Equal(t, int64(1001), b)
	require.Equal(t, int64(1002), c)
}

func TestStamper_OwnersDoNotInterfere(t *testing.T) {
	s := NewWithNow(func() int64 { return 1000 })

	require.Equal(t, int64(1000), s.Next("u1"))
	require.Equal(t, int64(1000), s.Next("u2"))
}

func TestStamper_NextNIsConsecutive(t *testing.T) {
	s := NewWithNow(func() int64 { return 500 })

	run := s.NextN("u1", 3)
	require.Equal(t, []int64{500, 501, 502}, run)

	// the next single allocation continues after the run
	require.Equal(t, int64(503), s.Next("u1"))
}

func TestStamper_FollowsAdvancingClock(t *testing.T) {
	now := int64(100)
	s := NewWithNow(func() int64 { return now })

	require.Equal(t, int64(100), s.Next("u1"))
	now = 200
	require.Equal(t, int64(200), s.Next("u1"))
}

func TestStamper_ObserveRaisesFloor(t *testing.T) {
	s := NewWithNow(func() int64 { return 100 })

	s.Observe("u1", 9999)
	require.Equal(t, int64(10000), s.Next("u1"))
}
