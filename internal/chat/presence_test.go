package chat

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_Online_Then_Offline_Restores_Prior_State(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	tracker.MarkOnline("bob")
	before := tracker.Snapshot()

	after := tracker.MarkOnline("alice")
	req.Equal(2, after.OnlineCount)

	restored := tracker.MarkOffline("alice")
	req.Equal(before, restored)
	req.Equal(restored.OnlineCount, len(restored.OnlineUsers))
}

func TestPresenceTracker_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	tracker.MarkOnline("alice")
	snapshot := tracker.MarkOnline("alice")
	req.Equal(1, snapshot.OnlineCount)

	tracker.MarkOffline("alice")
	snapshot = tracker.MarkOffline("alice")
	req.Equal(0, snapshot.OnlineCount)
	req.NotNil(snapshot.OnlineUsers)
	req.Empty(snapshot.OnlineUsers)
}

func TestPresenceTracker_Instances_Are_Independent(t *testing.T) {
	req := require.New(t)
	first := NewPresenceTracker()
	second := NewPresenceTracker()

	first.MarkOnline("alice")

	req.True(first.IsOnline("alice"))
	req.False(second.IsOnline("alice"))
}

func TestPresenceTracker_Only_Reports_To_Its_Own_Gauge(t *testing.T) {
	req := require.New(t)
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_online_users"})

	// Given one reporting tracker and one silent tracker
	reporting := NewPresenceTracker(WithOnlineGauge(gauge))
	silent := NewPresenceTracker()

	reporting.MarkOnline("alice")
	reporting.MarkOnline("bob")
	req.Equal(2.0, testutil.ToFloat64(gauge))

	// When the silent tracker changes
	silent.MarkOnline("carol")
	silent.MarkOffline("carol")

	// Then the gauge still reflects the reporting tracker
	req.Equal(2.0, testutil.ToFloat64(gauge))

	reporting.MarkOffline("alice")
	req.Equal(1.0, testutil.ToFloat64(gauge))
}
